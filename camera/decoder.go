package camera

import (
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/rs/zerolog/log"
)

// Decoder finds codes in camera frames. QR is tried first, then Code 128, so
// a frame holding both reports the QR code first.
type Decoder struct {
	readers []formatReader
}

type formatReader struct {
	symbology Symbology
	reader    func() gozxing.Reader
	hints     map[gozxing.DecodeHintType]interface{}
}

func NewDecoder() *Decoder {
	return &Decoder{readers: []formatReader{
		{
			symbology: SymbologyQR,
			reader:    func() gozxing.Reader { return qrcode.NewQRCodeReader() },
			hints:     map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true},
		},
		{
			symbology: SymbologyCode128,
			reader:    func() gozxing.Reader { return oned.NewCode128Reader() },
			hints:     map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true},
		},
	}}
}

// Decode returns every code found in img. An image with no readable code
// yields an empty slice and no error.
func (d *Decoder) Decode(img image.Image) ([]Code, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("gozxing.NewBinaryBitmapFromImage failed: %w", err)
	}

	var codes []Code
	for _, fr := range d.readers {
		result, err := fr.reader().Decode(bmp, fr.hints)
		if err != nil {
			log.Trace().Err(err).Str("symbology", string(fr.symbology)).Msg("camera: no code in frame")
			continue
		}
		codes = append(codes, Code{Symbology: symbologyOf(result.GetBarcodeFormat(), fr.symbology), Payload: result.GetText()})
	}
	return codes, nil
}

// DecodeReader decodes a PNG or JPEG stream and scans it.
func (d *Decoder) DecodeReader(r io.Reader) ([]Code, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image.Decode failed: %w", err)
	}
	return d.Decode(img)
}

func symbologyOf(format gozxing.BarcodeFormat, fallback Symbology) Symbology {
	switch format {
	case gozxing.BarcodeFormat_QR_CODE:
		return SymbologyQR
	case gozxing.BarcodeFormat_CODE_128:
		return SymbologyCode128
	}
	if fallback != "" {
		return fallback
	}
	return SymbologyUnknown
}
