package updater

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/cubelabs/stormsync/internal/bundle"
	"github.com/cubelabs/stormsync/internal/transport"
)

// ContentAvailablePushType identifies content-available pushes in a
// notification payload's type field.
const ContentAvailablePushType = "background"

// Push payload keys.
const (
	pushKeyFilename          = "filename"
	pushKeyTimestamp         = "timestamp"
	pushKeyLandmarkTimestamp = "latestLandmarkTimestamp"
)

// PushHandler reacts to content-available pushes from the server. The
// payload carries a direct full-bundle URL so recipients don't stampede the
// delta endpoint, plus the timestamp of the most recent landmark publish;
// the handler never updates past a landmark.
type PushHandler struct {
	manager     Manager
	storagePath string
	environment transport.Environment
	log         *slog.Logger
}

// NewPushHandler builds a handler that triggers downloads through manager.
func NewPushHandler(manager Manager, storagePath string, environment transport.Environment, log *slog.Logger) *PushHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PushHandler{
		manager:     manager,
		storagePath: storagePath,
		environment: environment,
		log:         log,
	}
}

// HandleContentAvailablePush inspects the push payload and starts a direct
// download when the local bundle is older than the pushed one and not cut
// off by a landmark publish. It returns the started request, or nil when
// the push was ignored.
func (h *PushHandler) HandleContentAvailablePush(ctx context.Context, data map[string]string) *Request {
	h.log.Info("handling content available push",
		"component", "push",
		"action", "push_received",
		"payload", data,
	)

	// Test-environment devices pull through the authenticated endpoints.
	if h.environment != transport.EnvironmentLive {
		return nil
	}

	endpoint := data[pushKeyFilename]
	remoteRaw, hasRemote := data[pushKeyTimestamp]
	if endpoint == "" || !hasRemote {
		h.log.Info("content available push invalid",
			"component", "push",
			"action", "push_ignored",
		)
		return nil
	}

	remote, err := strconv.ParseInt(remoteRaw, 10, 64)
	if err != nil {
		h.log.Info("content available push has a bad timestamp",
			"component", "push",
			"action", "push_ignored",
			"timestamp", remoteRaw,
		)
		return nil
	}

	var landmark int64
	if raw, ok := data[pushKeyLandmarkTimestamp]; ok {
		if landmark, err = strconv.ParseInt(raw, 10, 64); err != nil {
			h.log.Info("content available push has a bad landmark timestamp",
				"component", "push",
				"action", "push_ignored",
				"timestamp", raw,
			)
			return nil
		}
	}

	local, err := bundle.Timestamp(h.storagePath)
	if err != nil {
		if errors.Is(err, bundle.ErrNoManifest) {
			h.log.Info("local bundle timestamp not found",
				"component", "push",
				"action", "push_ignored",
			)
			return nil
		}
		h.log.Warn("local bundle timestamp unreadable",
			"component", "push",
			"action", "push_ignored",
			"error", err,
		)
		return nil
	}

	if local >= remote {
		h.log.Info("content already up to date",
			"component", "push",
			"action", "push_ignored",
			"local", local,
			"remote", remote,
		)
		return nil
	}

	if local < landmark {
		h.log.Info("content cannot update past a landmark publish",
			"component", "push",
			"action", "push_ignored",
			"local", local,
			"landmark", landmark,
		)
		return nil
	}

	h.log.Info("downloading pushed bundle",
		"component", "push",
		"action", "push_download",
		"endpoint", endpoint,
	)
	return h.manager.DownloadUpdates(ctx, endpoint)
}
