package configurator

import "fmt"

const (
	webRoot    = "/var/www/app"
	serviceDir = "/srv/app/current"
)

func unpackTo(dir, artifact string) string {
	return fmt.Sprintf("mkdir -p %s\ntar -xzf %s -C %s", dir, artifact, dir)
}

// webScriptVariant serves an interpreted web-script stack through the
// system web server and its script module; no per-application unit exists.
type webScriptVariant struct{}

func (webScriptVariant) Name() string   { return "webscript" }
func (webScriptVariant) AppDir() string { return webRoot }
func (webScriptVariant) PlaceCommand(req Request) string {
	return unpackTo(webRoot, req.ArtifactPath)
}
func (webScriptVariant) Service(Request) (ServiceSpec, bool) {
	return ServiceSpec{Name: "apache2"}, true
}

// nodeVariant runs a Node service under its own unit.
type nodeVariant struct{}

func (nodeVariant) Name() string   { return "node" }
func (nodeVariant) AppDir() string { return serviceDir }
func (nodeVariant) PlaceCommand(req Request) string {
	return unpackTo(serviceDir, req.ArtifactPath) + fmt.Sprintf(
		"\ncd %s\n[ -f package.json ] && npm install --omit=dev || true", serviceDir)
}
func (nodeVariant) Service(req Request) (ServiceSpec, bool) {
	return ServiceSpec{
		Name: "app",
		Unit: renderUnit(unitParams{
			Description: "Node application service",
			User:        req.ServeUser,
			WorkingDir:  serviceDir,
			ExecStart:   "/usr/bin/npm start",
			Environment: fmt.Sprintf("PORT=%d", req.Port),
		}),
	}, true
}

// wsgiVariant runs a Python WSGI service through gunicorn.
type wsgiVariant struct{}

func (wsgiVariant) Name() string   { return "wsgi" }
func (wsgiVariant) AppDir() string { return serviceDir }
func (wsgiVariant) PlaceCommand(req Request) string {
	return unpackTo(serviceDir, req.ArtifactPath) + fmt.Sprintf(
		"\ncd %s\n[ -f requirements.txt ] && pip3 install -r requirements.txt || true", serviceDir)
}
func (wsgiVariant) Service(req Request) (ServiceSpec, bool) {
	return ServiceSpec{
		Name: "app",
		Unit: renderUnit(unitParams{
			Description: "WSGI application service",
			User:        req.ServeUser,
			WorkingDir:  serviceDir,
			ExecStart:   fmt.Sprintf("/usr/bin/gunicorn --bind 0.0.0.0:%d app:app", req.Port),
		}),
	}, true
}

// spaVariant serves a prebuilt single-page-app bundle through the system
// web server.
type spaVariant struct{}

func (spaVariant) Name() string   { return "spa" }
func (spaVariant) AppDir() string { return webRoot }
func (spaVariant) PlaceCommand(req Request) string {
	return unpackTo(webRoot, req.ArtifactPath)
}
func (spaVariant) Service(Request) (ServiceSpec, bool) {
	return ServiceSpec{Name: "nginx"}, true
}

// composeVariant brings up a multi-container stack through a oneshot unit
// wrapping compose, so the stack survives reboots like any other service.
type composeVariant struct{}

func (composeVariant) Name() string   { return "compose" }
func (composeVariant) AppDir() string { return serviceDir }
func (composeVariant) PlaceCommand(req Request) string {
	return unpackTo(serviceDir, req.ArtifactPath)
}
func (composeVariant) Service(Request) (ServiceSpec, bool) {
	return ServiceSpec{
		Name: "app",
		Unit: fmt.Sprintf(`[Unit]
Description=Compose application stack
Requires=docker.service
After=docker.service

[Service]
Type=oneshot
RemainAfterExit=yes
WorkingDirectory=%s
ExecStart=/usr/bin/docker compose up -d
ExecStop=/usr/bin/docker compose down

[Install]
WantedBy=multi-user.target
`, serviceDir),
	}, true
}

// staticVariant serves plain files through the system web server.
type staticVariant struct{}

func (staticVariant) Name() string   { return "static" }
func (staticVariant) AppDir() string { return webRoot }
func (staticVariant) PlaceCommand(req Request) string {
	return unpackTo(webRoot, req.ArtifactPath)
}
func (staticVariant) Service(Request) (ServiceSpec, bool) {
	return ServiceSpec{Name: "nginx"}, true
}

type unitParams struct {
	Description string
	User        string
	WorkingDir  string
	ExecStart   string
	Environment string
}

func renderUnit(p unitParams) string {
	env := ""
	if p.Environment != "" {
		env = "Environment=" + p.Environment + "\n"
	}
	return fmt.Sprintf(`[Unit]
Description=%s
After=network.target

[Service]
User=%s
WorkingDirectory=%s
ExecStart=%s
%sRestart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`, p.Description, p.User, p.WorkingDir, p.ExecStart, env)
}
