package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// fileTransfer handles file transfer operations via SFTP.
type fileTransfer struct {
	client *Client
	config *Config
}

// Put writes content to a remote path with the given mode.
func (c *Client) Put(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error {
	return c.fileTransfer.put(ctx, content, remotePath, mode)
}

// UploadFile uploads a local file to the remote instance via SFTP.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	return c.fileTransfer.uploadFile(ctx, localPath, remotePath, mode)
}

// Symlink creates (or replaces) a symlink on the remote instance.
func (c *Client) Symlink(ctx context.Context, target, linkPath string) error {
	sftpClient, err := c.fileTransfer.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	// A fresh instance has no /srv/app tree yet; the link's parent must
	// exist before SSH_FXP_SYMLINK or the server answers ENOENT.
	if err := sftpClient.MkdirAll(path.Dir(linkPath)); err != nil {
		return &TransportError{
			Op:       "symlink",
			Err:      fmt.Errorf("failed to create link directory: %w", err),
			ExitCode: -1,
		}
	}

	// sftp has no atomic replace; remove any stale link first.
	if _, err := sftpClient.Lstat(linkPath); err == nil {
		if err := sftpClient.Remove(linkPath); err != nil {
			return &TransportError{
				Op:       "symlink",
				Err:      fmt.Errorf("failed to remove existing link: %w", err),
				ExitCode: -1,
			}
		}
	}

	if err := sftpClient.Symlink(target, linkPath); err != nil {
		return &TransportError{
			Op:          "symlink",
			Err:         err,
			IsTemporary: true,
			ExitCode:    -1,
		}
	}
	return nil
}

// Chown changes ownership of a remote path. SFTP chown requires numeric
// IDs, so this goes through the shell to allow user/group names.
func (c *Client) Chown(ctx context.Context, remotePath, owner string, recursive bool) error {
	body := fmt.Sprintf("chown %s %s", owner, remotePath)
	if recursive {
		body = fmt.Sprintf("chown -R %s %s", owner, remotePath)
	}
	_, err := c.Run(ctx, Command{Body: body, Sudo: true, Timeout: 60 * time.Second})
	return err
}

// createSFTPClient creates a new SFTP client.
func (f *fileTransfer) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := f.client.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
			ExitCode:    -1,
		}
	}

	return sftpClient, nil
}

// put writes bytes to a remote path.
func (f *fileTransfer) put(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error {
	startTime := time.Now()

	log.Debug().
		Str("remote", remotePath).
		Int("size", len(content)).
		Str("mode", mode.String()).
		Msg("writing remote file")

	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{
			Op:       "put",
			Err:      fmt.Errorf("failed to create remote directory: %w", err),
			ExitCode: -1,
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:          "put",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
			ExitCode:    -1,
		}
	}

	if _, err := remoteFile.Write(content); err != nil {
		remoteFile.Close()
		return &TransportError{
			Op:          "put",
			Err:         fmt.Errorf("failed to write remote file: %w", err),
			IsTemporary: true,
			ExitCode:    -1,
		}
	}
	if err := remoteFile.Close(); err != nil {
		return &TransportError{
			Op:          "put",
			Err:         err,
			IsTemporary: true,
			ExitCode:    -1,
		}
	}

	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return &TransportError{
			Op:       "put",
			Err:      fmt.Errorf("failed to chmod remote file: %w", err),
			ExitCode: -1,
		}
	}

	log.Debug().
		Str("remote", remotePath).
		Dur("duration", time.Since(startTime)).
		Msg("remote file written")

	return nil
}

// uploadFile streams a local file to the remote instance.
func (f *fileTransfer) uploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	startTime := time.Now()

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Str("mode", mode.String()).
		Msg("uploading file")

	localFile, err := os.Open(localPath)
	if err != nil {
		return &TransportError{
			Op:       "upload",
			Err:      fmt.Errorf("failed to open local file: %w", err),
			ExitCode: -1,
		}
	}
	defer localFile.Close()

	sftpClient, err := f.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{
			Op:       "upload",
			Err:      fmt.Errorf("failed to create remote directory: %w", err),
			ExitCode: -1,
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
			ExitCode:    -1,
		}
	}
	defer remoteFile.Close()

	bytesWritten, err := copyWithContext(ctx, remoteFile, localFile)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("transfer failed after %d bytes: %w", bytesWritten, err),
			IsTemporary: true,
			ExitCode:    -1,
		}
	}

	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return &TransportError{
			Op:       "upload",
			Err:      fmt.Errorf("failed to chmod remote file: %w", err),
			ExitCode: -1,
		}
	}

	log.Debug().
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// copyWithContext copies data while honoring context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
			if nw < nr {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
