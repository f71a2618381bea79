package captcha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	mrand "math/rand"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
)

var ErrRender = errors.New("captcha render failed")

const (
	canvasWidth  = 500
	canvasHeight = 200
	background   = "#0B1B2A"
	avatarSize   = 120
	avatarX      = 30
	avatarBorder = "#12323b"
	textStartX   = 200
	textStep     = 45
	textMargin   = 20
	noiseStrokes = 6
	noiseDots    = 60
)

// DefaultAvatarBudget bounds how long one render waits for an avatar.
const DefaultAvatarBudget = 1500 * time.Millisecond

var glyphColors = []string{"#dbefff", "#bfe3d8", "#ffd7a8"}

// AvatarSource loads a user's avatar. A failing source only costs the
// picture, never the captcha.
type AvatarSource interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

type Renderer struct {
	font         *truetype.Font
	avatars      AvatarSource
	avatarBudget time.Duration
	logger       *zap.Logger
}

func NewRenderer(avatars AvatarSource, logger *zap.Logger) (*Renderer, error) {
	parsed, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse captcha font: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{font: parsed, avatars: avatars, avatarBudget: DefaultAvatarBudget, logger: logger}, nil
}

// WithAvatarBudget changes how long a render waits for the avatar before
// drawing without it.
func (r *Renderer) WithAvatarBudget(budget time.Duration) *Renderer {
	if budget > 0 {
		r.avatarBudget = budget
	}
	return r
}

// Render draws secret onto a PNG, with the avatar behind avatarURL on the left
// when it can be fetched.
func (r *Renderer) Render(ctx context.Context, secret, avatarURL string) (png []byte, err error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrRender)
	}
	defer func() {
		if rec := recover(); rec != nil {
			png = nil
			err = fmt.Errorf("%w: %v", ErrRender, rec)
		}
	}()

	dc := gg.NewContext(canvasWidth, canvasHeight)
	dc.SetHexColor(background)
	dc.Clear()

	r.drawNoise(dc)
	if avatar := r.loadAvatar(ctx, avatarURL); avatar != nil {
		drawAvatar(dc, avatar)
	}
	r.drawText(dc, secret)
	drawDots(dc)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawNoise(dc *gg.Context) {
	for i := 0; i < noiseStrokes; i++ {
		dc.SetRGBA(noiseChannel(), noiseChannel(), noiseChannel(), 0.25)
		dc.SetLineWidth(1 + mrand.Float64()*2)
		dc.DrawLine(
			mrand.Float64()*canvasWidth, mrand.Float64()*canvasHeight,
			mrand.Float64()*canvasWidth, mrand.Float64()*canvasHeight,
		)
		dc.Stroke()
	}
}

func noiseChannel() float64 {
	return float64(50+mrand.Intn(121)) / 255
}

func (r *Renderer) loadAvatar(ctx context.Context, url string) image.Image {
	if url == "" || r.avatars == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.avatarBudget)
	defer cancel()
	avatar, err := r.avatars.Fetch(ctx, url)
	if err != nil {
		r.logger.Warn("avatar fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	return avatar
}

func drawAvatar(dc *gg.Context, avatar image.Image) {
	scaled := image.NewRGBA(image.Rect(0, 0, avatarSize, avatarSize))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), avatar, avatar.Bounds(), xdraw.Over, nil)

	y := (canvasHeight - avatarSize) / 2
	radius := float64(avatarSize) / 2
	cx := float64(avatarX) + radius
	cy := float64(y) + radius

	dc.Push()
	dc.DrawCircle(cx, cy, radius)
	dc.Clip()
	dc.DrawImage(scaled, avatarX, y)
	dc.ResetClip()
	dc.Pop()

	dc.SetHexColor(avatarBorder)
	dc.SetLineWidth(4)
	dc.DrawCircle(cx, cy, radius+2)
	dc.Stroke()
}

func (r *Renderer) drawText(dc *gg.Context, secret string) {
	glyphs := []rune(secret)
	step := float64(textStep)
	if fit := float64(canvasWidth-textStartX-textMargin) / float64(len(glyphs)); fit < step {
		step = fit
	}
	baseY := float64(canvasHeight)/2 + 12

	// truetype faces are not safe for concurrent use, so each render builds its own.
	faces := make(map[int]font.Face)
	defer func() {
		for _, face := range faces {
			_ = face.Close()
		}
	}()

	for i, glyph := range glyphs {
		size := 40 + mrand.Intn(17)
		face, ok := faces[size]
		if !ok {
			face = truetype.NewFace(r.font, &truetype.Options{Size: float64(size)})
			faces[size] = face
		}

		x := float64(textStartX) + float64(i)*step + float64(mrand.Intn(9)-4)
		angle := (mrand.Float64()*30 - 15) * math.Pi / 180

		dc.Push()
		dc.SetFontFace(face)
		dc.SetHexColor(glyphColors[i%len(glyphColors)])
		dc.Translate(x, baseY)
		dc.Rotate(angle)
		dc.DrawString(string(glyph), 0, 0)
		dc.Pop()
	}
}

func drawDots(dc *gg.Context) {
	for i := 0; i < noiseDots; i++ {
		dc.SetRGBA(1, 1, 1, mrand.Float64()*0.08)
		dc.DrawCircle(mrand.Float64()*canvasWidth, mrand.Float64()*canvasHeight, mrand.Float64()*2+0.5)
		dc.Fill()
	}
}
