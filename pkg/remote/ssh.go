package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/fleetbench/fleetbench-go/pkg/model"
)

// SSHDialer opens SSH transports to devices.
type SSHDialer struct {
	// HostKeyCallback verifies server keys. Nil accepts any key; test
	// devices are re-imaged often and rarely keep stable host keys.
	HostKeyCallback ssh.HostKeyCallback

	// ReadKeyFile loads private keys. Nil uses os.ReadFile.
	ReadKeyFile func(name string) ([]byte, error)
}

var _ Dialer = (*SSHDialer)(nil)

// Dial connects and authenticates. The handshake honors ctx's deadline.
func (d *SSHDialer) Dial(ctx context.Context, dev model.Device) (Transport, error) {
	auth, err := d.authMethods(dev.Credential)
	if err != nil {
		return nil, &AuthenticationError{Device: dev.ID, Err: err}
	}

	hostKey := d.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	cfg := &ssh.ClientConfig{
		User:            dev.Credential.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
	}

	addr := dev.HostPort()
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &UnreachableError{Device: dev.ID, Attempts: 1, Err: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	stop()
	if err != nil {
		_ = conn.Close()
		if isSSHAuthError(err) {
			return nil, &AuthenticationError{Device: dev.ID, Err: err}
		}
		return nil, &UnreachableError{Device: dev.ID, Attempts: 1, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshTransport{
		device: dev,
		client: ssh.NewClient(c, chans, reqs),
	}, nil
}

func (d *SSHDialer) authMethods(cred model.Credential) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cred.KeyFile != "" {
		read := d.ReadKeyFile
		if read == nil {
			read = os.ReadFile
		}
		pem, err := read(cred.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", cred.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		pw := cred.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, errors.New("no password or key file")
	}
	return methods, nil
}

func isSSHAuthError(err error) bool {
	var se *ssh.ServerAuthError
	if errors.As(err, &se) {
		return true
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}

// sshTransport runs commands over one SSH client connection.
type sshTransport struct {
	device model.Device
	client *ssh.Client

	mu   sync.Mutex
	sftp *sftp.Client
}

var (
	_ Transport = (*sshTransport)(nil)
	_ Pinger    = (*sshTransport)(nil)
)

func (t *sshTransport) Run(ctx context.Context, cmd string) (Result, error) {
	sess, err := t.client.NewSession()
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if err := sess.Start(cmd); err != nil {
		return Result{}, err
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return Result{}, ctx.Err()
	case err := <-done:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
			return res, nil
		}
		return Result{}, err
	}
}

// Push copies a file or directory tree with SFTP, creating remote
// directories as needed and truncating existing files.
func (t *sshTransport) Push(ctx context.Context, localPath, remotePath string) error {
	client, err := t.sftpClient()
	if err != nil {
		return &TransportLostError{Device: t.device.ID, Err: err}
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	dst := sftpPath(remotePath)
	if !info.IsDir() {
		if err := client.MkdirAll(path.Dir(dst)); err != nil {
			return err
		}
		return copyFile(ctx, client, localPath, dst)
	}

	return filepath.WalkDir(localPath, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		target := path.Join(dst, filepath.ToSlash(rel))
		if entry.IsDir() {
			return client.MkdirAll(target)
		}
		return copyFile(ctx, client, p, target)
	})
}

func (t *sshTransport) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (t *sshTransport) Close() error {
	t.mu.Lock()
	if t.sftp != nil {
		_ = t.sftp.Close()
		t.sftp = nil
	}
	t.mu.Unlock()
	return t.client.Close()
}

func (t *sshTransport) sftpClient() (*sftp.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sftp != nil {
		return t.sftp, nil
	}
	c, err := sftp.NewClient(t.client)
	if err != nil {
		return nil, err
	}
	t.sftp = c
	return c, nil
}

func copyFile(ctx context.Context, client *sftp.Client, local, remotePath string) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// sftpPath converts a Windows path (C:\Temp\x) to the form OpenSSH's SFTP
// server expects (/C:/Temp/x). POSIX paths are returned unchanged.
func sftpPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if len(p) >= 2 && p[1] == ':' {
		p = "/" + p
	}
	return p
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
