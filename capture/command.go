package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Command captures frames by running an external still-capture tool that
// writes one image to stdout, e.g.
//
//	fswebcam -d /dev/video0 --no-banner -
//	libcamera-still -n -o - --roi ...
//
// The placeholders {{zoom}} and {{facing}} in Args are replaced with the
// stream's constraints.
type Command struct {
	Path string
	Args []string
	Log  *zap.Logger
}

// NewCommand returns a command source.
func NewCommand(path string, args []string, log *zap.Logger) *Command {
	return &Command{Path: path, Args: args, Log: log}
}

// Open implements Source. It checks that the tool exists and grabs one
// frame so a broken device fails at start rather than on the first tick.
func (c *Command) Open(ctx context.Context, cons Constraints) (Stream, error) {
	exe, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	st := &commandStream{exe: exe, args: expandArgs(c.Args, cons), log: c.Log}
	if _, err := st.run(ctx); err != nil {
		return nil, err
	}
	st.tracks = []*Track{NewTrack("cmd-0", exe, nil)}
	return st, nil
}

func expandArgs(args []string, c Constraints) []string {
	zoom := ""
	if c.Zoom > 0 {
		zoom = strconv.FormatFloat(c.Zoom, 'f', -1, 64)
	}
	r := strings.NewReplacer("{{zoom}}", zoom, "{{facing}}", c.FacingMode)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

type commandStream struct {
	exe    string
	args   []string
	log    *zap.Logger
	tracks []*Track
}

func (s *commandStream) Tracks() []*Track { return s.tracks }

func (s *commandStream) Snapshot(ctx context.Context) (image.Image, error) {
	if err := live(s.tracks); err != nil {
		return nil, err
	}
	return s.run(ctx)
}

func (s *commandStream) run(ctx context.Context) (image.Image, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.exe, s.args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(strings.ToLower(msg), "permission denied") {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrNoDevice, s.exe, err, msg)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode %s output: %w", s.exe, err)
	}
	if s.log != nil {
		s.log.Debug("command frame captured", zap.String("exe", s.exe), zap.Int("bytes", stdout.Len()))
	}
	return img, nil
}
