package classroom

import (
	"github.com/ivlev/lecture3d/internal/bus"
	"github.com/ivlev/lecture3d/internal/metrics"
	"github.com/ivlev/lecture3d/internal/scene"
)

const (
	assetRoom   = "room"
	assetAvatar = "avatar"
)

// loadAssets starts the room and avatar loads. Each completes on the loop
// independently; a failure leaves a gap in the scene and nothing else.
func (c *Controller) loadAssets() {
	ctx := c.session.Context()
	for _, job := range []struct {
		role string
		url  string
	}{
		{assetRoom, c.opts.RoomAsset},
		{assetAvatar, c.opts.AvatarAsset},
	} {
		go func(role, url string) {
			asset, err := c.loader.Load(ctx, url)
			c.loop.Post(func() { c.assetLoaded(role, url, asset, err) })
		}(job.role, job.url)
	}
}

func (c *Controller) assetLoaded(role, url string, asset *scene.Asset, err error) {
	if !c.live() {
		return
	}
	if err != nil {
		metrics.AssetLoads.WithLabelValues(role, "error").Inc()
		c.log.Error().Err(err).Str("asset", role).Str("url", url).Msg("asset failed to load")
		c.publish(bus.EventTypeAssetFailed, map[string]any{"asset": role, "url": url, "error": err.Error()})
		if role == assetRoom {
			c.session.FailRoom(err)
		}
		return
	}
	metrics.AssetLoads.WithLabelValues(role, "ok").Inc()

	switch role {
	case assetRoom:
		c.session.AttachRoom(asset)
		c.roomLoaded = true
	case assetAvatar:
		if err := c.session.AttachAvatar(asset); err != nil {
			c.log.Warn().Err(err).Str("url", url).Msg("avatar has no usable animation")
		}
		c.avatarLoaded = true
		if c.props.OnLoaded != nil {
			c.props.OnLoaded()
		}
	}
	c.publish(bus.EventTypeSceneLoaded, map[string]any{
		"asset": role,
		"url":   url,
		"clips": len(asset.Clips),
	})
}
