package buildx

import (
	"context"
	"os"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
)

// ReapArtifacts deletes every artifact file recorded for the project except
// keepPath, the artifact just produced. Deletion problems are logged and
// never fail the caller; a leftover file is reclaimed on the next run.
func ReapArtifacts(ctx context.Context, repo domain.DeploymentRepository, projectID int64, keepPath string, log *logstream.Logger) {
	paths, err := repo.ListArtifactPathsByProject(ctx, projectID)
	if err != nil {
		log.Warningf("Could not list prior artifacts for cleanup: %v", err)
		return
	}

	removed := 0
	for _, p := range paths {
		if p == keepPath {
			continue
		}
		if err := os.Remove(p); err != nil {
			if !os.IsNotExist(err) {
				log.Warningf("Could not delete old artifact %s: %v", p, err)
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("Cleaned up %d old artifact(s)", removed)
	}
}
