package avd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeSDK emulates adb, avdmanager, sdkmanager and emulator well enough to
// drive a Host through a whole lifecycle.
type fakeSDK struct {
	mu sync.Mutex

	calls  []string
	live   []string
	images map[string]bool

	bootNever   bool
	attachHangs bool
	killIgnored bool
	createErr   error
	deleteErr   error
	devicesErr  error
	startErr    error
	getpropErr  error
}

func newFakeSDK(live ...string) *fakeSDK {
	return &fakeSDK{live: live, images: map[string]bool{}}
}

func fakeEnv() Env {
	return Env{
		AVDHome:              "/nonexistent",
		Emulator:             "emulator",
		ADB:                  "adb",
		AvdMgr:               "avdmanager",
		SdkManager:           "sdkmanager",
		BootTimeout:          time.Second,
		BootPollInterval:     100 * time.Millisecond,
		ShutdownTimeout:      time.Second,
		ShutdownPollInterval: 100 * time.Millisecond,
		Context:              context.Background(),
	}
}

func (f *fakeSDK) Run(ctx context.Context, c Command) (string, error) {
	if f.attachHangs && slices.Contains(c.Args, "wait-for-device") {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c.String())
	switch filepath.Base(c.Bin) {
	case "adb":
		return f.adb(c)
	case "avdmanager":
		return f.avdmanager(c)
	}
	return "", nil
}

func (f *fakeSDK) fail(c Command, err error) error {
	return &CommandError{Bin: c.Bin, Args: c.Args, Output: err.Error(), Err: errors.New("exit status 1")}
}

func (f *fakeSDK) adb(c Command) (string, error) {
	args := c.Args
	if len(args) == 1 && args[0] == "devices" {
		if f.devicesErr != nil {
			return "", f.fail(c, f.devicesErr)
		}
		var b strings.Builder
		b.WriteString("List of devices attached\n")
		for _, s := range f.live {
			fmt.Fprintf(&b, "%s\tdevice\n", s)
		}
		return b.String(), nil
	}
	if len(args) < 3 || args[0] != "-s" {
		return "", nil
	}
	serial, rest := args[1], args[2:]
	switch strings.Join(rest, " ") {
	case "wait-for-device":
		return "", nil
	case "shell getprop sys.boot_completed":
		if f.getpropErr != nil {
			return "", f.fail(c, f.getpropErr)
		}
		if f.bootNever {
			return "\n", nil
		}
		return "1\n", nil
	case "emu kill":
		if !f.killIgnored {
			f.live = slices.DeleteFunc(f.live, func(s string) bool { return s == serial })
		}
		return "OK\n", nil
	case "emu avd name":
		return DefaultName + "\nOK\n", nil
	}
	return "", nil
}

func (f *fakeSDK) avdmanager(c Command) (string, error) {
	if len(c.Args) < 4 {
		return "", nil
	}
	name := c.Args[3]
	switch c.Args[0] {
	case "create":
		if f.createErr != nil {
			return "", f.fail(c, f.createErr)
		}
		f.images[name] = true
	case "delete":
		if f.deleteErr != nil {
			return "", f.fail(c, f.deleteErr)
		}
		delete(f.images, name)
	}
	return "", nil
}

func (f *fakeSDK) Start(_ context.Context, c Command) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start "+c.String())
	if f.startErr != nil {
		return Process{}, &CommandError{Bin: c.Bin, Args: c.Args, Err: f.startErr}
	}
	if i := slices.Index(c.Args, "-port"); i >= 0 && i+1 < len(c.Args) {
		if port, err := strconv.Atoi(c.Args[i+1]); err == nil {
			f.live = append(f.live, NewEndpoint(port).Serial)
		}
	}
	return Process{PID: 4242, LogPath: "/tmp/fake.log"}, nil
}

func (f *fakeSDK) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// indexOf returns the position of the first command starting with prefix.
func (f *fakeSDK) indexOf(prefix string) int {
	return slices.IndexFunc(f.commands(), func(c string) bool { return strings.HasPrefix(c, prefix) })
}

func (f *fakeSDK) count(prefix string) int {
	n := 0
	for _, c := range f.commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
