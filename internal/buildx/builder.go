package buildx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/irgordon/slipway/internal/config"
	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
)

// Builder runs project install and build commands inside a synced working
// copy and reports their output into the deployment log.
type Builder struct {
	verbosity config.Verbosity
}

func NewBuilder(verbosity config.Verbosity) *Builder {
	return &Builder{verbosity: verbosity}
}

// defaultInstallCommand returns the dependency-install command implied by
// the project kind when the project does not configure one.
func defaultInstallCommand(kind domain.ProjectKind) string {
	switch kind {
	case domain.ProjectFrontend:
		return "npm install"
	case domain.ProjectJava:
		return "mvn dependency:resolve"
	default:
		return ""
	}
}

// Install resolves and runs the project's dependency-install step. A failed
// install is reported as a warning and does not abort the deployment; the
// build step is the arbiter of whether the tree is usable.
func (b *Builder) Install(ctx context.Context, p *domain.Project, sourceDir string, log *logstream.Logger) {
	if !p.AutoInstall {
		return
	}
	command := p.InstallCommand
	if command == "" {
		command = defaultInstallCommand(p.Kind)
	}
	if command == "" {
		return
	}

	log.Infof("Installing dependencies: %s", command)
	if err := b.runCommand(ctx, command, sourceDir, log); err != nil {
		log.Warningf("Dependency install failed, continuing with build: %v", err)
		return
	}
	log.Info("Dependencies installed")
}

// Build runs the project's build command. Failure is fatal to the
// deployment; a context cancellation surfaces as ctx.Err so the caller can
// distinguish CANCELLED from FAILED.
func (b *Builder) Build(ctx context.Context, p *domain.Project, sourceDir string, log *logstream.Logger) error {
	if strings.TrimSpace(p.BuildCommand) == "" {
		return errors.New("project has no build command configured")
	}

	log.Infof("Building: %s", p.BuildCommand)
	if err := b.runCommand(ctx, p.BuildCommand, sourceDir, log); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("build command failed: %w", err)
	}
	log.Info("Build completed")
	return nil
}

// runCommand executes a whitespace-tokenized command in dir. In detailed
// mode stdout and stderr are streamed line by line into the deployment log;
// in minimal mode output is collected and dumped only on failure.
func (b *Builder) runCommand(ctx context.Context, command, dir string, log *logstream.Logger) error {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	if b.verbosity == config.VerbosityDetailed {
		return b.runStreaming(cmd, log)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
			if line != "" {
				log.Error(line)
			}
		}
		return err
	}
	return nil
}

func (b *Builder) runStreaming(cmd *exec.Cmd, log *logstream.Logger) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	drain := func(r *bufio.Scanner, emit func(string)) {
		for r.Scan() {
			if line := strings.TrimRight(r.Text(), "\r"); line != "" {
				emit(line)
			}
		}
	}
	// stderr is drained concurrently so a chatty tool cannot deadlock the
	// pipes; interleaving order between the two streams is best effort.
	done := make(chan struct{})
	go func() {
		defer close(done)
		drain(bufio.NewScanner(stderr), log.Warning)
	}()
	drain(bufio.NewScanner(stdout), log.Info)
	<-done

	return cmd.Wait()
}
