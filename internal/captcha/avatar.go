package captcha

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	_ "golang.org/x/image/webp"

	"aurox-gatekeeper/internal/utils"
)

const maxAvatarBytes = 4 << 20

// DiscordAvatarHosts are the CDN hosts avatars are served from.
var DiscordAvatarHosts = []string{"discordapp.com", "discord.com", "discordapp.net"}

// HTTPAvatarSource downloads avatars over HTTPS from an allowed set of hosts.
type HTTPAvatarSource struct {
	client       *http.Client
	allowedHosts []string
}

func NewHTTPAvatarSource(timeout time.Duration, allowedHosts []string) *HTTPAvatarSource {
	return &HTTPAvatarSource{
		client:       &http.Client{Timeout: timeout},
		allowedHosts: allowedHosts,
	}
}

func (s *HTTPAvatarSource) Fetch(ctx context.Context, rawURL string) (image.Image, error) {
	normalized, host, err := utils.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if len(s.allowedHosts) > 0 && !utils.HostAllowed(host, s.allowedHosts) {
		return nil, utils.ErrUntrustedHost
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalized, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar fetch: unexpected status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return nil, fmt.Errorf("avatar decode: %w", err)
	}
	return img, nil
}
