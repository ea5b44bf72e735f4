package remote

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
)

func TestContainers_Build_Failure(t *testing.T) {
	fake := &fakeRunner{
		script: func(cmd string, sudo bool) (sshchan.Result, error) {
			return sshchan.Result{ExitStatus: 1, Stderr: "failed to solve: no such file"}, nil
		},
	}
	c := NewContainers(fake, quietLogger())

	err := c.Build(context.Background())
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("Build() = %v, want ErrBuild", err)
	}
	if !strings.Contains(err.Error(), "no such file") {
		t.Errorf("build stderr missing from error: %v", err)
	}
}

func TestContainers_Build_TagsFixedImage(t *testing.T) {
	fake := &fakeRunner{}
	c := NewContainers(fake, quietLogger())

	if err := c.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !fake.issued("docker build -t " + ImageName) {
		t.Errorf("build not tagged under the fixed image name, calls: %+v", fake.calls)
	}
}

func TestContainers_Run_PrefersLoopbackBind(t *testing.T) {
	fake := &fakeRunner{}
	c := NewContainers(fake, quietLogger())

	if err := c.Run(context.Background(), 5000); err != nil {
		t.Fatal(err)
	}
	// Redeploy over a live container: the fixed name is cleared first.
	if fake.firstIndex("docker rm -f "+ContainerName) > fake.firstIndex("docker run") {
		t.Error("previous container must be removed before the new one starts")
	}
	if !fake.issued("-p 127.0.0.1:5000:5000") {
		t.Errorf("loopback bind not attempted, calls: %+v", fake.calls)
	}
	if !fake.issued("--restart unless-stopped") {
		t.Error("restart policy missing")
	}
	// The first attempt succeeded, so no fallback bind.
	for _, call := range fake.calls {
		if strings.Contains(call.cmd, "-p 5000:5000") {
			t.Error("all-interfaces bind attempted although loopback succeeded")
		}
	}
}

func TestContainers_Run_FallsBackToAllInterfaces(t *testing.T) {
	fake := &fakeRunner{
		script: func(cmd string, sudo bool) (sshchan.Result, error) {
			if strings.Contains(cmd, "-p 127.0.0.1:") {
				return sshchan.Result{ExitStatus: 125, Stderr: "port is already allocated"}, nil
			}
			return sshchan.Result{}, nil
		},
	}
	c := NewContainers(fake, quietLogger())

	if err := c.Run(context.Background(), 5000); err != nil {
		t.Fatalf("Run() = %v, want fallback success", err)
	}
	if !fake.issued("-p 5000:5000") {
		t.Error("all-interfaces fallback not attempted")
	}
	// A failed attempt can leave a dead container holding the name.
	if !fake.issued("docker rm -f " + ContainerName) {
		t.Error("name not cleared between bind attempts")
	}
}

func TestContainers_Run_BothBindsFail(t *testing.T) {
	fake := &fakeRunner{
		script: func(cmd string, sudo bool) (sshchan.Result, error) {
			if strings.Contains(cmd, "docker run") {
				return sshchan.Result{ExitStatus: 125, Stderr: "cannot start"}, nil
			}
			return sshchan.Result{}, nil
		},
	}
	c := NewContainers(fake, quietLogger())

	err := c.Run(context.Background(), 5000)
	if !errors.Is(err, ErrContainerStart) {
		t.Fatalf("Run() = %v, want ErrContainerStart", err)
	}
}

func TestContainers_Replace_AbsentIsNotAnError(t *testing.T) {
	fake := &fakeRunner{
		script: func(cmd string, sudo bool) (sshchan.Result, error) {
			return sshchan.Result{ExitStatus: 1, Stderr: "Error: No such container: skiff-app"}, nil
		},
	}
	c := NewContainers(fake, quietLogger())

	// Must not panic or propagate anything; absence is the desired state.
	c.Replace(context.Background())
}

func TestContainers_Logs(t *testing.T) {
	fake := &fakeRunner{
		script: func(cmd string, sudo bool) (sshchan.Result, error) {
			return sshchan.Result{Stdout: "listening on :5000\n", Stderr: "warn: no config\n"}, nil
		},
	}
	c := NewContainers(fake, quietLogger())

	logs := c.Logs(context.Background())
	if !strings.Contains(logs, "listening on :5000") || !strings.Contains(logs, "no config") {
		t.Errorf("Logs() = %q, want both streams", logs)
	}
}
