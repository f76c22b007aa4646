package mpd_test

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/edumarques81/stellar-jukebox/internal/infra/mpd"
)

// fakeMPD speaks the MPD line protocol on a loopback port. It greets like
// MPD 0.23, records every command except ping and close, and answers with
// respond, or a bare OK when respond returns "".
type fakeMPD struct {
	ln      net.Listener
	respond func(cmd string) string

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
	wg       sync.WaitGroup
}

func startFakeMPD(t *testing.T, respond func(cmd string) string) *fakeMPD {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeMPD{ln: ln, respond: respond}
	f.wg.Add(1)
	go f.serve()
	t.Cleanup(f.close)
	return f
}

// client returns a client of partition talking to the fake server.
func (f *fakeMPD) client(t *testing.T, partition string) *mpd.Client {
	t.Helper()
	port := f.ln.Addr().(*net.TCPAddr).Port
	c := mpd.NewClient("127.0.0.1", port, "", partition)
	t.Cleanup(func() { c.Close() })
	return c
}

func (f *fakeMPD) serve() {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		f.wg.Add(1)
		go f.handle(conn)
	}
}

func (f *fakeMPD) handle(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close()

	if _, err := io.WriteString(conn, "OK MPD 0.23.0\n"); err != nil {
		return
	}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		switch cmd {
		case "close":
			return
		case "ping":
			if _, err := io.WriteString(conn, "OK\n"); err != nil {
				return
			}
			continue
		}

		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		reply := ""
		if f.respond != nil {
			reply = f.respond(cmd)
		}
		if reply == "" {
			reply = "OK\n"
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

// sent returns the commands received so far.
func (f *fakeMPD) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeMPD) close() {
	f.ln.Close()
	f.mu.Lock()
	for _, c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()
	f.wg.Wait()
}

// replies answers commands from a fixed table.
func replies(table map[string]string) func(string) string {
	return func(cmd string) string { return table[cmd] }
}

func assertSent(t *testing.T, f *fakeMPD, want ...string) {
	t.Helper()
	got := f.sent()
	if len(got) != len(want) {
		t.Fatalf("expected commands %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, got[i], want[i])
		}
	}
}
