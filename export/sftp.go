package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTP uploads downloads to a remote directory over SSH with private-key
// authentication. A connection is opened per upload; exports are rare.
type SFTP struct {
	Addr      string // host:port
	User      string
	KeyPath   string
	RemoteDir string
	Timeout   time.Duration

	// HostKeyCallback defaults to ssh.InsecureIgnoreHostKey when nil.
	HostKeyCallback ssh.HostKeyCallback
}

func (s *SFTP) Name() string { return "sftp" }

func (s *SFTP) clientConfig() (*ssh.ClientConfig, error) {
	keyByte, err := os.ReadFile(s.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	key, err := ssh.ParsePrivateKey(keyByte)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	hostKey := s.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(key)},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

// Save uploads the file into RemoteDir.
func (s *SFTP) Save(ctx context.Context, d Download) error {
	body, err := d.Bytes()
	if err != nil {
		return err
	}
	conf, err := s.clientConfig()
	if err != nil {
		return err
	}

	sshClient, err := ssh.Dial("tcp", s.Addr, conf)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", s.Addr, err)
	}
	defer sshClient.Close()

	// ssh.Dial has no context; tear the connection down on cancel
	stop := context.AfterFunc(ctx, func() { sshClient.Close() })
	defer stop()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer sftpClient.Close()

	return upload(sftpClient, s.RemoteDir, d.Filename, body)
}

// remoteFS is the subset of *sftp.Client used for uploads.
type remoteFS interface {
	MkdirAll(path string) error
	Create(path string) (*sftp.File, error)
}

func upload(c remoteFS, dir, name string, body []byte) error {
	if dir != "" {
		if err := c.MkdirAll(dir); err != nil {
			return fmt.Errorf("create remote dir %s: %w", dir, err)
		}
	}
	dst := path.Join(dir, name)
	dstFile, err := c.Create(dst)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", dst, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("upload %s: %w", dst, err)
	}
	return nil
}
