package archive

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"deepresearch/backend/internal/research"
)

const reportPrefix = "reports"

type Archiver struct {
	objects ObjectStore
	logger  *zap.Logger
}

func NewArchiver(objects ObjectStore, logger *zap.Logger) Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Archiver{objects: objects, logger: logger}
}

// Archive writes the Markdown and YAML renditions of report and returns their
// object paths. A zero Archiver is a no-op.
func (a Archiver) Archive(ctx context.Context, report research.ResearchReport) ([]string, error) {
	if a.objects == nil {
		return nil, nil
	}
	if report.ID == "" {
		return nil, errors.New("archive report: empty report id")
	}

	rendered, err := RenderYAML(report)
	if err != nil {
		return nil, err
	}
	objects := []struct {
		path        string
		contentType string
		data        []byte
	}{
		{path: fmt.Sprintf("%s/%s.md", reportPrefix, report.ID), contentType: "text/markdown; charset=utf-8", data: []byte(RenderMarkdown(report))},
		{path: fmt.Sprintf("%s/%s.yaml", reportPrefix, report.ID), contentType: "application/yaml", data: rendered},
	}

	paths := make([]string, 0, len(objects))
	for _, object := range objects {
		if err := a.objects.PutObject(ctx, object.path, object.contentType, object.data); err != nil {
			for _, written := range paths {
				if cleanupErr := a.objects.DeleteObject(ctx, written); cleanupErr != nil {
					a.logger.Warn("archive cleanup failed", zap.String("path", written), zap.Error(cleanupErr))
				}
			}
			return nil, fmt.Errorf("archive report %s: %w", report.ID, err)
		}
		paths = append(paths, object.path)
	}
	a.logger.Info("report archived",
		zap.String("report_id", report.ID),
		zap.String("backend", a.objects.Backend()),
		zap.Strings("paths", paths),
	)
	return paths, nil
}
