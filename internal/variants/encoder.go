package variants

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"

	"mediapipe/internal/models"
)

// EncodeFunc writes img to w using the codec's quality/effort policy.
type EncodeFunc func(w io.Writer, img image.Image, policy models.CodecConfig) error

// codecTable binds every supported codec to its encoder.
var codecTable = map[models.Codec]EncodeFunc{
	models.CodecAVIF: encodeAVIF,
	models.CodecWebP: encodeWebP,
	models.CodecJPEG: encodeJPEG,
}

func encodeAVIF(w io.Writer, img image.Image, p models.CodecConfig) error {
	return avif.Encode(w, img, avif.Options{Quality: p.Quality, Speed: p.Effort})
}

func encodeWebP(w io.Writer, img image.Image, p models.CodecConfig) error {
	return webp.Encode(w, img, webp.Options{Quality: p.Quality, Method: p.Effort})
}

func encodeJPEG(w io.Writer, img image.Image, p models.CodecConfig) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(p.Quality))
}

// Encoded is the output of one (breakpoint, codec) job.
type Encoded struct {
	Width       int
	Height      int
	ByteSize    int64
	Data        []byte
	ContentType string
}

type Encoder struct {
	policies map[models.Codec]models.CodecConfig
	table    map[models.Codec]EncodeFunc
}

func NewEncoder(codecs []models.CodecConfig) *Encoder {
	policies := make(map[models.Codec]models.CodecConfig, len(codecs))
	for _, cc := range codecs {
		policies[cc.Codec] = cc
	}
	return &Encoder{policies: policies, table: codecTable}
}

// Encode resizes src to bp and encodes it with codec. Failures come back as
// *models.EncodeError and concern this pair only.
func (e *Encoder) Encode(src *models.SourceImage, bp models.BreakpointSpec, codec models.Codec) (out *Encoded, err error) {
	fail := func(cause error) (*Encoded, error) {
		return nil, &models.EncodeError{Breakpoint: bp.Name, Codec: codec, Err: cause}
	}

	fn, ok := e.table[codec]
	if !ok {
		return fail(fmt.Errorf("unsupported codec"))
	}
	policy, ok := e.policies[codec]
	if !ok {
		return fail(fmt.Errorf("no policy configured"))
	}
	if src == nil || src.Image == nil {
		return fail(fmt.Errorf("source not decoded"))
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = fail(fmt.Errorf("encoder panic: %v", r))
		}
	}()

	resized := Resize(src.Image, bp)
	var buf bytes.Buffer
	if err := fn(&buf, resized, policy); err != nil {
		return fail(err)
	}
	if buf.Len() == 0 {
		return fail(fmt.Errorf("encoder produced no output"))
	}

	b := resized.Bounds()
	return &Encoded{
		Width:       b.Dx(),
		Height:      b.Dy(),
		ByteSize:    int64(buf.Len()),
		Data:        buf.Bytes(),
		ContentType: codec.ContentType(),
	}, nil
}

// Resize applies the breakpoint's fit mode. Inside never upscales: a box
// larger than the source on one edge is bounded by the other.
func Resize(img image.Image, bp models.BreakpointSpec) image.Image {
	if bp.Fit == models.FitCover {
		return imaging.Fill(img, bp.Width, bp.Height, imaging.Center, imaging.Lanczos)
	}
	if bp.Width == 0 || bp.Height == 0 {
		b := img.Bounds()
		if (bp.Width == 0 || bp.Width >= b.Dx()) && (bp.Height == 0 || bp.Height >= b.Dy()) {
			return imaging.Clone(img)
		}
		return imaging.Resize(img, bp.Width, bp.Height, imaging.Lanczos)
	}
	return imaging.Fit(img, bp.Width, bp.Height, imaging.Lanczos)
}
