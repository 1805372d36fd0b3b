package pdf

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// isImageCodec reports whether a filter produces an image format rather
// than plain bytes. Such filters are left for the image layer.
func isImageCodec(filter Name) bool {
	switch filter {
	case "DCTDecode", "DCT", "JPXDecode", "JBIG2Decode", "CCITTFaxDecode", "CCF":
		return true
	}
	return false
}

// applyFilter applies a single transport filter
func applyFilter(data []byte, filter Name, params Dictionary) ([]byte, error) {
	switch filter {
	case "FlateDecode", "Fl":
		return flateDecode(data, params)
	case "ASCIIHexDecode", "AHx":
		return asciiHexDecode(data)
	case "ASCII85Decode", "A85":
		return ascii85Decode(data)
	case "LZWDecode", "LZW":
		return lzwDecode(data, params)
	case "RunLengthDecode", "RL":
		return runLengthDecode(data)
	case "Crypt":
		// Identity crypt filter; the stream was decrypted on load.
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, filter)
	}
}

// flateDecode inflates zlib data. Truncated streams are common in the wild;
// whatever inflated before the error is kept.
func flateDecode(data []byte, params Dictionary) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	decoded, err := io.ReadAll(r)
	if err != nil && !(len(decoded) > 0 && errors.Is(err, io.ErrUnexpectedEOF)) {
		return nil, err
	}
	return applyPredictor(decoded, params)
}

// lzwDecode decodes LZW data honoring /EarlyChange
func lzwDecode(data []byte, params Dictionary) ([]byte, error) {
	earlyChange := int64(1)
	if ec, ok := params.GetInt("EarlyChange"); ok {
		earlyChange = ec
	}
	decoded, err := lzwDecompress(data, earlyChange == 1)
	if err != nil {
		return nil, err
	}
	return applyPredictor(decoded, params)
}

// applyPredictor undoes PNG (>= 10) and TIFF (2) predictors
func applyPredictor(data []byte, params Dictionary) ([]byte, error) {
	predictor, ok := params.GetInt("Predictor")
	if !ok || predictor <= 1 {
		return data, nil
	}

	columns := int64(1)
	if v, ok := params.GetInt("Columns"); ok {
		columns = v
	}
	colors := int64(1)
	if v, ok := params.GetInt("Colors"); ok {
		colors = v
	}
	bpc := int64(8)
	if v, ok := params.GetInt("BitsPerComponent"); ok {
		bpc = v
	}

	bytesPerPixel := int((colors*bpc + 7) / 8)
	rowBytes := int((columns*colors*bpc + 7) / 8)
	if rowBytes <= 0 {
		return nil, fmt.Errorf("invalid predictor row size %d", rowBytes)
	}

	if predictor == 2 {
		return tiffPredictor(data, rowBytes, bytesPerPixel, bpc), nil
	}
	if predictor < 10 {
		return nil, fmt.Errorf("unknown predictor %d", predictor)
	}
	return pngPredictor(data, rowBytes, bytesPerPixel)
}

// tiffPredictor reverses horizontal differencing. Only 8-bit components
// are differenced; other depths pass through unchanged.
func tiffPredictor(data []byte, rowBytes, bytesPerPixel int, bpc int64) []byte {
	if bpc != 8 {
		return data
	}
	out := make([]byte, len(data))
	copy(out, data)
	for row := 0; row+rowBytes <= len(out); row += rowBytes {
		for i := bytesPerPixel; i < rowBytes; i++ {
			out[row+i] += out[row+i-bytesPerPixel]
		}
	}
	return out
}

func pngPredictor(data []byte, rowBytes, bytesPerPixel int) ([]byte, error) {
	stride := rowBytes + 1
	rows := len(data) / stride
	result := make([]byte, rows*rowBytes)
	prevRow := make([]byte, rowBytes)

	for row := 0; row < rows; row++ {
		src := data[row*stride+1 : (row+1)*stride]
		dst := result[row*rowBytes : (row+1)*rowBytes]

		switch filterType := data[row*stride]; filterType {
		case 0:
			copy(dst, src)
		case 1: // Sub
			for i := 0; i < rowBytes; i++ {
				var left byte
				if i >= bytesPerPixel {
					left = dst[i-bytesPerPixel]
				}
				dst[i] = src[i] + left
			}
		case 2: // Up
			for i := 0; i < rowBytes; i++ {
				dst[i] = src[i] + prevRow[i]
			}
		case 3: // Average
			for i := 0; i < rowBytes; i++ {
				var left byte
				if i >= bytesPerPixel {
					left = dst[i-bytesPerPixel]
				}
				dst[i] = src[i] + byte((int(left)+int(prevRow[i]))/2)
			}
		case 4: // Paeth
			for i := 0; i < rowBytes; i++ {
				var left, upLeft byte
				if i >= bytesPerPixel {
					left = dst[i-bytesPerPixel]
					upLeft = prevRow[i-bytesPerPixel]
				}
				dst[i] = src[i] + paethPredictor(left, prevRow[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("invalid PNG filter type %d in row %d", filterType, row)
		}
		copy(prevRow, dst)
	}
	return result, nil
}

func paethPredictor(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := absInt(p - int(a))
	pb := absInt(p - int(b))
	pc := absInt(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// asciiHexDecode decodes ASCIIHex data up to the '>' terminator
func asciiHexDecode(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data)/2)
	var nibble byte
	var hasNibble bool

	for _, b := range data {
		if b == '>' {
			break
		}
		if isWhitespace(b) {
			continue
		}
		val, ok := hexValue(b)
		if !ok {
			return nil, fmt.Errorf("invalid hex character %q", b)
		}
		if hasNibble {
			result = append(result, nibble<<4|val)
			hasNibble = false
		} else {
			nibble = val
			hasNibble = true
		}
	}
	if hasNibble {
		result = append(result, nibble<<4)
	}
	return result, nil
}

func hexValue(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	}
	return 0, false
}

// ascii85Decode decodes ASCII85 data up to the '~>' terminator
func ascii85Decode(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(bytes.TrimLeft(data, " \t\r\n\f\x00"), []byte("<~"))
	result := make([]byte, 0, len(data)*4/5)
	var tuple uint32
	var count int

	for _, b := range data {
		if b == '~' {
			break
		}
		if isWhitespace(b) {
			continue
		}
		if b == 'z' && count == 0 {
			result = append(result, 0, 0, 0, 0)
			continue
		}
		if b < '!' || b > 'u' {
			return nil, fmt.Errorf("invalid ASCII85 character %q", b)
		}

		tuple = tuple*85 + uint32(b-'!')
		count++
		if count == 5 {
			result = append(result, byte(tuple>>24), byte(tuple>>16), byte(tuple>>8), byte(tuple))
			tuple = 0
			count = 0
		}
	}

	if count == 1 {
		return nil, errors.New("ASCII85 data ends with a single character group")
	}
	if count > 0 {
		for i := count; i < 5; i++ {
			tuple = tuple*85 + 84
		}
		for i := 0; i < count-1; i++ {
			result = append(result, byte(tuple>>(24-i*8)))
		}
	}
	return result, nil
}

// lzwDecompress performs MSB-first variable width LZW decoding
func lzwDecompress(data []byte, earlyChange bool) ([]byte, error) {
	const (
		clearCode = 256
		eodCode   = 257
	)

	dict := make([][]byte, 4096)
	for i := 0; i < 256; i++ {
		dict[i] = []byte{byte(i)}
	}
	nextCode := 258
	codeSize := 9
	bitPos := 0

	var result, prev []byte

	readCode := func() int {
		if bitPos+codeSize > len(data)*8 {
			return eodCode
		}
		code := 0
		for i := 0; i < codeSize; i++ {
			pos := bitPos + i
			if data[pos/8]&(1<<(7-pos%8)) != 0 {
				code |= 1 << (codeSize - 1 - i)
			}
		}
		bitPos += codeSize
		return code
	}

	for {
		code := readCode()
		if code == eodCode {
			break
		}
		if code == clearCode {
			nextCode = 258
			codeSize = 9
			prev = nil
			continue
		}

		var entry []byte
		switch {
		case code < nextCode && dict[code] != nil:
			entry = dict[code]
		case code == nextCode && prev != nil:
			entry = append(append([]byte{}, prev...), prev[0])
		default:
			return nil, fmt.Errorf("invalid LZW code %d", code)
		}
		result = append(result, entry...)

		if prev != nil && nextCode < 4096 {
			dict[nextCode] = append(append([]byte{}, prev...), entry[0])
			nextCode++
			threshold := 1 << codeSize
			if earlyChange {
				threshold--
			}
			if nextCode >= threshold && codeSize < 12 {
				codeSize++
			}
		}
		prev = entry
	}
	return result, nil
}

// runLengthDecode decodes RunLength data
func runLengthDecode(data []byte) ([]byte, error) {
	var result []byte
	for i := 0; i < len(data); {
		length := int(data[i])
		i++
		switch {
		case length == 128:
			return result, nil
		case length < 128:
			n := length + 1
			if i+n > len(data) {
				return nil, io.ErrUnexpectedEOF
			}
			result = append(result, data[i:i+n]...)
			i += n
		default:
			if i >= len(data) {
				return nil, io.ErrUnexpectedEOF
			}
			result = append(result, bytes.Repeat([]byte{data[i]}, 257-length)...)
			i++
		}
	}
	return result, nil
}
