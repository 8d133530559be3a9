package browser

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockedResourceTypes are never needed to fill and submit a login form.
var blockedResourceTypes = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeMedia,
}

// blockResources enables request interception for the tab. The returned
// listener fails image, font and media requests until ctx is canceled; the
// caller runs it on its own goroutine.
func blockResources(ctx context.Context, page *rod.Page) (listen func(), err error) {
	patterns := make([]*proto.FetchRequestPattern, 0, len(blockedResourceTypes))
	for _, rt := range blockedResourceTypes {
		patterns = append(patterns, &proto.FetchRequestPattern{
			URLPattern:   "*",
			ResourceType: rt,
		})
	}

	if err := (proto.FetchEnable{Patterns: patterns}).Call(page); err != nil {
		return func() {}, err
	}

	listen = page.Context(ctx).EachEvent(func(e *proto.FetchRequestPaused) bool {
		select {
		case <-ctx.Done():
			return true
		default:
		}
		// The request may already be gone if the tab is closing.
		_ = proto.FetchFailRequest{
			RequestID:   e.RequestID,
			ErrorReason: proto.NetworkErrorReasonBlockedByClient,
		}.Call(page)
		return false
	})

	return listen, nil
}
