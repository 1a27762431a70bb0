package cog

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// TIFF magic values.
const (
	littleEndianMagic  = 0x4949
	bigEndianMagic     = 0x4D4D
	tiffIdentifier     = 42
	bigTiffIdentifier  = 43
	bigTiffOffsetSize  = 8
	maxOverviewLevels  = 32
	gdalNoDataTag      = 42113
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPredictor       = 317
	tagSampleFormat    = 339
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
)

// Compression schemes understood by the reader.
const (
	compressionNone    = 1
	compressionDeflate = 8
	compressionZlibOld = 32946
)

// Predictor schemes.
const (
	predictorNone       = 1
	predictorHorizontal = 2
)

// Sample formats.
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// field types with their byte widths; index is the TIFF field type id.
var fieldTypeSize = [...]uint32{
	0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8,
	0, 0, 0, 8, 8, 8, // LONG8, SLONG8, IFD8
}

// level is one IFD: the full-resolution image or an overview.
type level struct {
	width, height   uint32
	tileWidth       uint32
	tileHeight      uint32
	tileOffsets     []uint64
	tileByteCounts  []uint64
	bitsPerSample   uint16
	sampleFormat    uint16
	compression     uint16
	predictor       uint16
	tilesAcross     int
	tilesDown       int
}

// resolution returns degrees per pixel at this level given the full image.
func (l *level) resolution(full *level, fullRes float64) float64 {
	return fullRes * float64(full.width) / float64(l.width)
}

// tiffFile is a parsed (Big)TIFF with its overview chain and geo tags.
type tiffFile struct {
	r         io.ReaderAt
	byteOrder binary.ByteOrder
	bigTIFF   bool
	levels    []level

	pixelScaleX float64
	pixelScaleY float64
	originX     float64
	originY     float64
	noData      *float64
}

// parseTIFF walks the header and every IFD in the file. COGs store the full
// resolution image first and overviews in subsequent IFDs.
func parseTIFF(r io.ReaderAt) (*tiffFile, error) {
	f := &tiffFile{r: r}

	header := make([]byte, 16)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	switch binary.BigEndian.Uint16(header[:2]) {
	case littleEndianMagic:
		f.byteOrder = binary.LittleEndian
	case bigEndianMagic:
		f.byteOrder = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF: bad byte order mark")
	}

	var ifdOffset uint64
	switch f.byteOrder.Uint16(header[2:4]) {
	case tiffIdentifier:
		ifdOffset = uint64(f.byteOrder.Uint32(header[4:8]))
	case bigTiffIdentifier:
		f.bigTIFF = true
		if f.byteOrder.Uint16(header[4:6]) != bigTiffOffsetSize {
			return nil, errors.New("invalid BigTIFF offset size")
		}
		ifdOffset = f.byteOrder.Uint64(header[8:16])
	default:
		return nil, errors.New("not a TIFF: bad identifier")
	}

	for ifdOffset != 0 && len(f.levels) < maxOverviewLevels {
		next, err := f.parseIFD(ifdOffset)
		if err != nil {
			return nil, err
		}
		ifdOffset = next
	}
	if len(f.levels) == 0 {
		return nil, errors.New("file contains no IFDs")
	}
	if f.pixelScaleX == 0 {
		return nil, errors.New("missing ModelPixelScale tag")
	}
	return f, nil
}

// parseIFD reads one directory, appends its level, and returns the offset of
// the next directory.
func (f *tiffFile) parseIFD(offset uint64) (uint64, error) {
	entrySize := 12
	countSize := 2
	if f.bigTIFF {
		entrySize = 20
		countSize = 8
	}

	countBuf := make([]byte, countSize)
	if _, err := f.r.ReadAt(countBuf, int64(offset)); err != nil {
		return 0, fmt.Errorf("read IFD count: %w", err)
	}
	var numEntries uint64
	if f.bigTIFF {
		numEntries = f.byteOrder.Uint64(countBuf)
	} else {
		numEntries = uint64(f.byteOrder.Uint16(countBuf))
	}

	block := make([]byte, int(numEntries)*entrySize+countSize+8)
	if _, err := f.r.ReadAt(block, int64(offset)); err != nil {
		return 0, fmt.Errorf("read IFD block: %w", err)
	}
	entries := block[countSize : countSize+int(numEntries)*entrySize]

	var lvl level
	first := len(f.levels) == 0
	for i := 0; i < int(numEntries); i++ {
		e := entries[i*entrySize:]
		tag := f.byteOrder.Uint16(e[0:2])
		ftype := f.byteOrder.Uint16(e[2:4])

		var count, valueOrOffset uint64
		var inline []byte
		if f.bigTIFF {
			count = f.byteOrder.Uint64(e[4:12])
			valueOrOffset = f.byteOrder.Uint64(e[12:20])
			inline = e[12:20]
		} else {
			count = uint64(f.byteOrder.Uint32(e[4:8]))
			valueOrOffset = uint64(f.byteOrder.Uint32(e[8:12]))
			inline = e[8:12]
		}

		if int(ftype) >= len(fieldTypeSize) || fieldTypeSize[ftype] == 0 {
			continue
		}

		switch tag {
		case tagImageWidth:
			lvl.width = uint32(f.scalarValue(ftype, inline, valueOrOffset))
		case tagImageLength:
			lvl.height = uint32(f.scalarValue(ftype, inline, valueOrOffset))
		case tagTileWidth:
			lvl.tileWidth = uint32(f.scalarValue(ftype, inline, valueOrOffset))
		case tagTileLength:
			lvl.tileHeight = uint32(f.scalarValue(ftype, inline, valueOrOffset))
		case tagBitsPerSample:
			lvl.bitsPerSample = uint16(f.scalarValue(ftype, inline, valueOrOffset))
		case tagSampleFormat:
			lvl.sampleFormat = uint16(f.scalarValue(ftype, inline, valueOrOffset))
		case tagCompression:
			lvl.compression = uint16(f.scalarValue(ftype, inline, valueOrOffset))
		case tagPredictor:
			lvl.predictor = uint16(f.scalarValue(ftype, inline, valueOrOffset))
		case tagTileOffsets:
			vals, err := f.uintSlice(ftype, count, inline, valueOrOffset)
			if err != nil {
				return 0, err
			}
			lvl.tileOffsets = vals
		case tagTileByteCounts:
			vals, err := f.uintSlice(ftype, count, inline, valueOrOffset)
			if err != nil {
				return 0, err
			}
			lvl.tileByteCounts = vals
		case tagModelPixelScale:
			if first {
				vals, err := f.doubleSlice(ftype, count, inline, valueOrOffset)
				if err != nil {
					return 0, err
				}
				if len(vals) >= 2 {
					f.pixelScaleX = vals[0]
					f.pixelScaleY = math.Abs(vals[1])
				}
			}
		case tagModelTiepoint:
			if first {
				vals, err := f.doubleSlice(ftype, count, inline, valueOrOffset)
				if err != nil {
					return 0, err
				}
				if len(vals) >= 6 {
					f.originX = vals[3]
					f.originY = vals[4]
				}
			}
		case gdalNoDataTag:
			if first {
				s, err := f.asciiValue(ftype, count, inline, valueOrOffset)
				if err == nil {
					if v, perr := strconv.ParseFloat(strings.TrimSpace(s), 64); perr == nil {
						f.noData = &v
					}
				}
			}
		}
	}

	if lvl.compression == 0 {
		lvl.compression = compressionNone
	}
	if lvl.predictor == 0 {
		lvl.predictor = predictorNone
	}
	if lvl.bitsPerSample == 0 {
		lvl.bitsPerSample = 32
	}
	if lvl.sampleFormat == 0 {
		lvl.sampleFormat = sampleFormatFloat
	}
	if lvl.tileWidth == 0 || lvl.tileHeight == 0 {
		return 0, errors.New("not a COG: image is not tiled")
	}
	lvl.tilesAcross = int(lvl.width+lvl.tileWidth-1) / int(lvl.tileWidth)
	lvl.tilesDown = int(lvl.height+lvl.tileHeight-1) / int(lvl.tileHeight)
	f.levels = append(f.levels, lvl)

	nextAt := countSize + int(numEntries)*entrySize
	if f.bigTIFF {
		return f.byteOrder.Uint64(block[nextAt : nextAt+8]), nil
	}
	return uint64(f.byteOrder.Uint32(block[nextAt : nextAt+4])), nil
}

// scalarValue decodes a single SHORT/LONG/LONG8 from an inline entry value.
func (f *tiffFile) scalarValue(ftype uint16, inline []byte, raw uint64) uint64 {
	switch ftype {
	case 3: // SHORT
		return uint64(f.byteOrder.Uint16(inline[:2]))
	case 4: // LONG
		return uint64(f.byteOrder.Uint32(inline[:4]))
	default:
		return raw
	}
}

// valueBytes returns the raw bytes of an entry value, whether inline or at
// an offset elsewhere in the file.
func (f *tiffFile) valueBytes(ftype uint16, count uint64, inline []byte, offset uint64) ([]byte, error) {
	total := uint64(fieldTypeSize[ftype]) * count
	inlineMax := uint64(4)
	if f.bigTIFF {
		inlineMax = 8
	}
	if total <= inlineMax {
		return inline[:total], nil
	}
	buf := make([]byte, total)
	if _, err := f.r.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("read tag value: %w", err)
	}
	return buf, nil
}

func (f *tiffFile) uintSlice(ftype uint16, count uint64, inline []byte, offset uint64) ([]uint64, error) {
	raw, err := f.valueBytes(ftype, count, inline, offset)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		switch ftype {
		case 3:
			out[i] = uint64(f.byteOrder.Uint16(raw[i*2:]))
		case 4:
			out[i] = uint64(f.byteOrder.Uint32(raw[i*4:]))
		case 16: // LONG8
			out[i] = f.byteOrder.Uint64(raw[i*8:])
		default:
			return nil, fmt.Errorf("unexpected field type %d for offset array", ftype)
		}
	}
	return out, nil
}

func (f *tiffFile) doubleSlice(ftype uint16, count uint64, inline []byte, offset uint64) ([]float64, error) {
	if ftype != 12 {
		return nil, fmt.Errorf("unexpected field type %d for DOUBLE array", ftype)
	}
	raw, err := f.valueBytes(ftype, count, inline, offset)
	if err != nil {
		return nil, err
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = math.Float64frombits(f.byteOrder.Uint64(raw[i*8:]))
	}
	return out, nil
}

func (f *tiffFile) asciiValue(ftype uint16, count uint64, inline []byte, offset uint64) (string, error) {
	if ftype != 2 {
		return "", fmt.Errorf("unexpected field type %d for ASCII", ftype)
	}
	raw, err := f.valueBytes(ftype, count, inline, offset)
	if err != nil {
		return "", err
	}
	return string(bytes.Trim(raw, "\x00")), nil
}

// decodeTile fetches, decompresses and decodes one tile of a level into
// float32 samples.
func (f *tiffFile) decodeTile(lvl *level, tileNum int) ([]float32, error) {
	if tileNum < 0 || tileNum >= len(lvl.tileOffsets) {
		return nil, fmt.Errorf("tile index %d out of bounds", tileNum)
	}
	raw := make([]byte, lvl.tileByteCounts[tileNum])
	if _, err := f.r.ReadAt(raw, int64(lvl.tileOffsets[tileNum])); err != nil {
		return nil, fmt.Errorf("read tile %d: %w", tileNum, err)
	}

	var data []byte
	switch lvl.compression {
	case compressionNone:
		data = raw
	case compressionDeflate, compressionZlibOld:
		z, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("open deflate tile %d: %w", tileNum, err)
		}
		defer z.Close()
		data, err = io.ReadAll(z)
		if err != nil {
			return nil, fmt.Errorf("decompress tile %d: %w", tileNum, err)
		}
	default:
		return nil, fmt.Errorf("unsupported compression %d", lvl.compression)
	}

	pixels := int(lvl.tileWidth) * int(lvl.tileHeight)
	out := make([]float32, pixels)

	switch {
	case lvl.sampleFormat == sampleFormatFloat && lvl.bitsPerSample == 32:
		if len(data) < pixels*4 {
			return nil, errors.New("short float32 tile")
		}
		for i := 0; i < pixels; i++ {
			out[i] = math.Float32frombits(f.byteOrder.Uint32(data[i*4:]))
		}
	case lvl.sampleFormat == sampleFormatFloat && lvl.bitsPerSample == 64:
		if len(data) < pixels*8 {
			return nil, errors.New("short float64 tile")
		}
		for i := 0; i < pixels; i++ {
			out[i] = float32(math.Float64frombits(f.byteOrder.Uint64(data[i*8:])))
		}
	case lvl.sampleFormat == sampleFormatInt && lvl.bitsPerSample == 16:
		if len(data) < pixels*2 {
			return nil, errors.New("short int16 tile")
		}
		vals := make([]int32, pixels)
		for i := 0; i < pixels; i++ {
			vals[i] = int32(int16(f.byteOrder.Uint16(data[i*2:])))
		}
		undoPredictor(vals, lvl)
		for i, v := range vals {
			out[i] = float32(v)
		}
	case lvl.sampleFormat == sampleFormatInt && lvl.bitsPerSample == 32:
		if len(data) < pixels*4 {
			return nil, errors.New("short int32 tile")
		}
		vals := make([]int32, pixels)
		for i := 0; i < pixels; i++ {
			vals[i] = int32(f.byteOrder.Uint32(data[i*4:]))
		}
		undoPredictor(vals, lvl)
		for i, v := range vals {
			out[i] = float32(v)
		}
	case lvl.sampleFormat == sampleFormatUint && lvl.bitsPerSample == 16:
		if len(data) < pixels*2 {
			return nil, errors.New("short uint16 tile")
		}
		for i := 0; i < pixels; i++ {
			out[i] = float32(f.byteOrder.Uint16(data[i*2:]))
		}
	default:
		return nil, fmt.Errorf("unsupported sample format %d/%d bits", lvl.sampleFormat, lvl.bitsPerSample)
	}
	return out, nil
}

// undoPredictor reverses horizontal differencing in place.
func undoPredictor(vals []int32, lvl *level) {
	if lvl.predictor != predictorHorizontal {
		return
	}
	w := int(lvl.tileWidth)
	for row := 0; row < int(lvl.tileHeight); row++ {
		start := row * w
		if start+w > len(vals) {
			break
		}
		for x := 1; x < w; x++ {
			vals[start+x] += vals[start+x-1]
		}
	}
}
