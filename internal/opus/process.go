package opus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/jonas747/ogg"
)

// Process is an FFmpeg subprocess whose Ogg output is demuxed into a
// packet buffer.
type Process struct {
	cmd *exec.Cmd
	buf *packetBuffer

	killOnce sync.Once
	done     chan struct{}
	waitErr  error
}

var _ Stream = (*Process)(nil)

func startProcess(path string, args []string) (*Process, error) {
	cmd := exec.Command(path, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to pipe ffmpeg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to pipe ffmpeg stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("unable to start ffmpeg: %w", err)
	}

	p := &Process{
		cmd:  cmd,
		buf:  newPacketBuffer(),
		done: make(chan struct{}),
	}

	// Both pipes must be fully read before cmd.Wait closes them.
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.buf.close(demux(stdout, p.buf))
	}()
	go func() {
		defer readers.Done()
		logStderr(stderr)
	}()
	go func() {
		readers.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (p *Process) ReadPacket() ([]byte, error) {
	return p.buf.pop()
}

// Kill terminates FFmpeg and drops any buffered packets. Safe to call
// more than once and from any goroutine.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		p.buf.discard()
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				slog.Debug("failed to kill ffmpeg", "pid", p.cmd.Process.Pid, "error", err)
			}
		}
	})
}

// Done is closed once FFmpeg has exited and its pipes are drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns FFmpeg's exit error. Only valid after Done is closed.
func (p *Process) Err() error {
	return p.waitErr
}

var (
	opusHead = []byte("OpusHead")
	opusTags = []byte("OpusTags")
)

// demux reads Ogg pages from r and pushes every audio packet into buf.
// Header packets are skipped. A clean end of stream returns nil.
func demux(r io.Reader, buf *packetBuffer) error {
	decoder := ogg.NewPacketDecoder(ogg.NewDecoder(r))
	for {
		packet, _, err := decoder.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			// Drain so the process never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			return fmt.Errorf("failed to demux ogg: %w", err)
		}
		if bytes.HasPrefix(packet, opusHead) || bytes.HasPrefix(packet, opusTags) {
			continue
		}
		if len(packet) == 0 {
			continue
		}
		// The decoder reuses its page buffer.
		buf.push(bytes.Clone(packet))
	}
}

var benignStderr = []string{
	"broken pipe",
	"error writing trailer",
	"end of file",
	"immediate exit requested",
	"exiting normally",
}

func isBenign(line string) bool {
	lower := strings.ToLower(line)
	for _, s := range benignStderr {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isBenign(line) {
			continue
		}
		slog.Warn("ffmpeg", "message", line)
	}
	// Keep draining if a line overflowed the scanner.
	_, _ = io.Copy(io.Discard, r)
}
