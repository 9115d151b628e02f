package sshx

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
)

const connectTimeout = 30 * time.Second

// Client is an authenticated SSH session to one target server, with a
// lazily opened SFTP subsystem. Not safe for concurrent use; the fan-out
// runs one server at a time.
type Client struct {
	host        string
	conn        *ssh.Client
	sftpClient  *sftp.Client
	execTimeout time.Duration
}

// Dial opens an SSH connection to the server. Host keys are auto-accepted;
// the control plane trusts its server inventory, not the network.
func Dial(server *domain.Server, auth domain.SSHAuth, execTimeout time.Duration) (*Client, error) {
	method, err := authMethod(auth)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            server.Username,
		Auth:            []ssh.AuthMethod{method},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}
	addr := net.JoinHostPort(server.Host, fmt.Sprintf("%d", server.Port))
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, classify(server.Host, err)
	}
	return &Client{host: server.Host, conn: conn, execTimeout: execTimeout}, nil
}

func authMethod(auth domain.SSHAuth) (ssh.AuthMethod, error) {
	switch a := auth.(type) {
	case domain.SSHPassword:
		return ssh.Password(a.Password), nil
	case domain.SSHKey:
		signer, err := ssh.ParsePrivateKey(a.Key)
		if err != nil {
			return nil, &Error{Kind: FailureAuth, Err: fmt.Errorf("parse private key: %w", err)}
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("unsupported SSH auth type %T", auth)
	}
}

// Close releases the SFTP subsystem first, then the SSH connection. Safe to
// call more than once.
func (c *Client) Close() {
	if c.sftpClient != nil {
		_ = c.sftpClient.Close()
		c.sftpClient = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) sftpSession() (*sftp.Client, error) {
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}
	sc, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, classify(c.host, fmt.Errorf("open sftp subsystem: %w", err))
	}
	c.sftpClient = sc
	return sc, nil
}

// Exec runs the command and returns its exit code with collected stdout and
// stderr. The session is abandoned if the command outlives the exec timeout.
func (c *Client) Exec(command string) (int, string, string, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return -1, "", "", classify(c.host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return -1, "", "", classify(c.host, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err = <-done:
	case <-time.After(c.execTimeout):
		return -1, stdout.String(), stderr.String(),
			fmt.Errorf("command timed out after %s on %s", c.execTimeout, c.host)
	}

	return exitCode(err), stdout.String(), stderr.String(), nil
}

// ExecStreaming runs the command, invoking the callbacks once per non-empty
// output line with trailing newline and carriage-return stripped. The full
// output of both streams is returned alongside the exit code.
func (c *Client) ExecStreaming(command string, onStdout, onStderr func(string)) (int, string, string, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return -1, "", "", classify(c.host, err)
	}
	defer session.Close()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return -1, "", "", classify(c.host, err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return -1, "", "", classify(c.host, err)
	}

	if err := session.Start(command); err != nil {
		return -1, "", "", classify(c.host, err)
	}

	var stdout, stderr strings.Builder
	drain := func(r io.Reader, full *strings.Builder, emit func(string)) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			full.WriteString(line)
			full.WriteByte('\n')
			if line != "" && emit != nil {
				emit(line)
			}
		}
	}
	drain(stdoutPipe, &stdout, onStdout)
	drain(stderrPipe, &stderr, onStderr)

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err = <-done:
	case <-time.After(c.execTimeout):
		return -1, stdout.String(), stderr.String(),
			fmt.Errorf("command timed out after %s on %s", c.execTimeout, c.host)
	}

	return exitCode(err), stdout.String(), stderr.String(), nil
}

// exitCode maps a session.Wait error to the remote exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

// Upload copies the local file to the remote path over SFTP.
func (c *Client) Upload(localPath, remotePath string) error {
	return c.upload(localPath, remotePath, nil)
}

// UploadWithProgress copies the local file to the remote path, logging a
// line at every additional 10% transferred plus start and end lines with
// duration and throughput.
func (c *Client) UploadWithProgress(localPath, remotePath string, log *logstream.Logger) error {
	return c.upload(localPath, remotePath, log)
}

func (c *Client) upload(localPath, remotePath string, log *logstream.Logger) error {
	sc, err := c.sftpSession()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	total := info.Size()

	dst, err := sc.Create(remotePath)
	if err != nil {
		return classify(c.host, fmt.Errorf("create remote file %s: %w", remotePath, err))
	}
	defer dst.Close()

	if log != nil {
		log.Infof("Uploading %s (%s) to %s:%s",
			localPath, humanize.Bytes(uint64(total)), c.host, remotePath)
	}

	start := time.Now()
	var transferred int64
	lastDecile := 0
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return classify(c.host, fmt.Errorf("write remote file: %w", writeErr))
			}
			transferred += int64(n)
			if log != nil && total > 0 {
				decile := int(transferred * 10 / total)
				if decile > lastDecile {
					lastDecile = decile
					log.Infof("Upload progress: %d%% (%s / %s)",
						decile*10, humanize.Bytes(uint64(transferred)), humanize.Bytes(uint64(total)))
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read local file: %w", readErr)
		}
	}

	if log != nil {
		elapsed := time.Since(start)
		rate := float64(transferred)
		if secs := elapsed.Seconds(); secs > 0 {
			rate = float64(transferred) / secs
		}
		log.Infof("Upload finished in %s (%s/s)",
			elapsed.Round(time.Millisecond), humanize.Bytes(uint64(rate)))
	}
	return nil
}

// FileExists reports whether a remote path exists (file or directory).
func (c *Client) FileExists(path string) (bool, error) {
	sc, err := c.sftpSession()
	if err != nil {
		return false, err
	}
	_, err = sc.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, classify(c.host, err)
}

// DirExists reports whether a remote path exists and is a directory.
func (c *Client) DirExists(path string) (bool, error) {
	sc, err := c.sftpSession()
	if err != nil {
		return false, err
	}
	info, err := sc.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, classify(c.host, err)
	}
	return info.IsDir(), nil
}

// Mkdir creates the remote directory and any missing parents, then applies
// the mode to the leaf.
func (c *Client) Mkdir(path string, mode os.FileMode) error {
	sc, err := c.sftpSession()
	if err != nil {
		return err
	}
	if err := sc.MkdirAll(path); err != nil {
		return classify(c.host, fmt.Errorf("mkdir %s: %w", path, err))
	}
	if err := sc.Chmod(path, mode); err != nil {
		return classify(c.host, fmt.Errorf("chmod %s: %w", path, err))
	}
	return nil
}
