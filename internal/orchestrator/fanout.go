package orchestrator

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/irgordon/slipway/internal/config"
	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
)

// backupTimestamp is the suffix format for swapped-out frontend directories.
const backupTimestamp = "0102-150405"

// deriveScriptPaths splits a restart script path into the directory to cd
// into and the script basename. Remote paths are POSIX.
func deriveScriptPaths(scriptPath string) (workdir, script string) {
	return path.Dir(scriptPath), path.Base(scriptPath)
}

// withServer resolves the server's credentials, dials it and runs fn with
// the session, closing it on every path.
func (o *Orchestrator) withServer(server *domain.Server, fn func(Executor) error) error {
	auth, err := o.secrets.ServerAuth(server)
	if err != nil {
		return fmt.Errorf("resolve credentials for %s: %w", server.Name, err)
	}
	exec, err := o.dial(server, auth)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", server.Name, err)
	}
	defer exec.Close()
	return fn(exec)
}

// forEachActiveServer walks the selected groups in order and their servers
// in enumeration order, invoking fn per active server. Inactive servers are
// skipped with a warning. The first error stops the walk.
func (o *Orchestrator) forEachActiveServer(ctx context.Context, groupIDs []int64, log *logstream.Logger, fn func(*domain.Server) error) error {
	for _, groupID := range groupIDs {
		group, err := o.servers.GetGroup(ctx, groupID)
		if err != nil {
			return fmt.Errorf("load server group %d: %w", groupID, err)
		}
		log.Infof("Deploying to server group %q (%d servers)", group.Name, len(group.Servers))
		for i := range group.Servers {
			server := &group.Servers[i]
			if !server.Active {
				log.Warningf("Skipping inactive server %s", server.Name)
				continue
			}
			if err := fn(server); err != nil {
				return fmt.Errorf("server %s: %w", server.Name, err)
			}
		}
	}
	return nil
}

// placeContent installs the artifact on one server using the strategy for
// the project kind.
func (o *Orchestrator) placeContent(exec Executor, project *domain.Project, artifactPath string, log *logstream.Logger) error {
	if project.Kind == domain.ProjectFrontend {
		return o.swapFrontend(exec, project, artifactPath, log)
	}
	return o.placeInPlace(exec, project, artifactPath, log)
}

// swapFrontend implements the atomic directory swap: stage the zip next to
// the target, move the current tree aside, unpack, and restore the backup
// if unpacking fails.
func (o *Orchestrator) swapFrontend(exec Executor, project *domain.Project, artifactPath string, log *logstream.Logger) error {
	uploadPath := path.Clean(project.UploadPath)
	if uploadPath == "/" {
		return fmt.Errorf("refusing to deploy to filesystem root")
	}
	parent := path.Dir(uploadPath)
	if parent == "" || parent == uploadPath {
		return fmt.Errorf("upload path %q has no usable parent directory", uploadPath)
	}
	target := path.Base(uploadPath)

	if err := exec.Mkdir(parent, 0o755); err != nil {
		return err
	}

	artifactName := filepath.Base(artifactPath)
	staging := path.Join(parent, artifactName)
	if err := exec.UploadWithProgress(artifactPath, staging, log); err != nil {
		return err
	}

	backupPath := path.Join(parent, fmt.Sprintf("%s-%s", target, time.Now().Format(backupTimestamp)))
	backedUp := false
	if exists, err := exec.DirExists(uploadPath); err != nil {
		return err
	} else if exists {
		log.Infof("Backing up current version: mv %s %s", uploadPath, backupPath)
		if code, _, stderr, err := exec.Exec(fmt.Sprintf("mv %q %q", uploadPath, backupPath)); err != nil {
			return err
		} else if code != 0 {
			return fmt.Errorf("backup failed: %s", strings.TrimSpace(stderr))
		}
		// Trust the probe, not the exit code; a partial move leaves the
		// target behind.
		backedUp, err = exec.DirExists(backupPath)
		if err != nil {
			return err
		}
	}

	code, _, stderr, err := exec.Exec(fmt.Sprintf("unzip -o %q -d %q", staging, uploadPath))
	if err == nil && code != 0 {
		err = fmt.Errorf("unzip failed: %s", strings.TrimSpace(stderr))
	}
	if err != nil {
		if backedUp {
			log.Warningf("Deploy failed, restoring previous version: mv %s %s", backupPath, uploadPath)
			if rcode, _, rstderr, rerr := exec.Exec(fmt.Sprintf("mv %q %q", backupPath, uploadPath)); rerr != nil || rcode != 0 {
				log.Errorf("Restore failed (%v %s); run manually: mv %q %q",
					rerr, strings.TrimSpace(rstderr), backupPath, uploadPath)
			}
		}
		if rcode, _, rstderr, rerr := exec.Exec(fmt.Sprintf("rm -f %q", staging)); rerr != nil || rcode != 0 {
			log.Warningf("Could not remove staging file %s: %v %s", staging, rerr, strings.TrimSpace(rstderr))
		}
		return err
	}

	if code, _, stderr, err := exec.Exec(fmt.Sprintf("rm -f %q", staging)); err != nil || code != 0 {
		log.Warningf("Could not remove staging file %s: %v %s", staging, err, strings.TrimSpace(stderr))
	}
	if backedUp {
		log.Infof("Previous version kept at %s", backupPath)
	}
	return nil
}

// placeInPlace installs backend and java artifacts by overwriting the
// upload path. Zip artifacts are unpacked; other binaries (uploaded .jar
// files) are placed as-is.
func (o *Orchestrator) placeInPlace(exec Executor, project *domain.Project, artifactPath string, log *logstream.Logger) error {
	uploadPath := path.Clean(project.UploadPath)
	if uploadPath == "/" || uploadPath == "." {
		return fmt.Errorf("invalid upload path %q", project.UploadPath)
	}
	if err := exec.Mkdir(uploadPath, 0o755); err != nil {
		return err
	}

	artifactName := filepath.Base(artifactPath)
	remote := path.Join(uploadPath, artifactName)
	if err := exec.UploadWithProgress(artifactPath, remote, log); err != nil {
		return err
	}

	if !strings.EqualFold(path.Ext(artifactName), ".zip") {
		log.Infof("Placed %s in %s", artifactName, uploadPath)
		return nil
	}

	code, _, stderr, err := exec.Exec(fmt.Sprintf("unzip -o %q -d %q", remote, uploadPath))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("unzip failed: %s", strings.TrimSpace(stderr))
	}

	if code, _, stderr, err := exec.Exec(fmt.Sprintf("rm -f %q", remote)); err != nil || code != 0 {
		log.Warningf("Could not remove staging file %s: %v %s", remote, err, strings.TrimSpace(stderr))
	}
	return nil
}

// runRestartScript executes the project restart script on the server. When
// fatal is false (rollback, restart after replaying a known-good artifact)
// a non-zero exit is only a warning.
func (o *Orchestrator) runRestartScript(exec Executor, scriptPath string, fatal bool, log *logstream.Logger) error {
	workdir, script := deriveScriptPaths(scriptPath)
	command := fmt.Sprintf(`cd %q && bash "./%s"`, workdir, script)
	log.Infof("Running restart script: %s", command)

	var onStdout, onStderr func(string)
	if o.cfg.LogVerbosity == config.VerbosityDetailed {
		onStdout = func(line string) { log.Infof("[restart] %s", line) }
		onStderr = func(line string) { log.Warningf("[restart] %s", line) }
	}

	code, _, stderr, err := exec.ExecStreaming(command, onStdout, onStderr)
	if err != nil {
		if !fatal {
			log.Warningf("Restart script error (ignored): %v", err)
			return nil
		}
		return err
	}
	if code != 0 {
		failure := fmt.Errorf("restart script exited with code %d: %s", code, strings.TrimSpace(stderr))
		if !fatal {
			log.Warningf("Restart script failed (ignored): %v", failure)
			return nil
		}
		return failure
	}
	log.Info("Restart script completed")
	return nil
}
