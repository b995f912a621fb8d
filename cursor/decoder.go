package cursor

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"slices"
	"time"

	"deedles.dev/wlcomp/shm/shmimage"
)

var (
	// ErrBadMagic indicates an unrecognized magic number when
	// attempting to load a cursor.
	ErrBadMagic = errors.New("bad magic")
	ErrNoImages = errors.New("cursor has no images")
)

const (
	fileMagic = 0x72756358 // ASCII "Xcur"

	chunkComment = 0xfffe0001
	chunkImage   = 0xfffd0002

	// maxImageSize is the largest width or height that libXcursor
	// accepts.
	maxImageSize = 0x7fff
)

type decoder struct {
	r    io.Reader
	br   *bufio.Reader
	n    int
	err  error
	size int
}

// DecodeFile decodes the Xcursor file at path. See Decode.
func DecodeFile(path string, size int) (*Cursor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	return Decode(file, size)
}

// Decode decodes an Xcursor file. Of the nominal sizes in the file,
// only the frames of the one closest to size are decoded.
func Decode(r io.Reader, size int) (*Cursor, error) {
	d := decoder{
		r:    r,
		br:   bufio.NewReader(r),
		size: size,
	}
	return d.Decode()
}

func (d *decoder) Decode() (c *Cursor, err error) {
	if d.err != nil {
		return nil, d.err
	}

	defer d.catch(&err)

	tocs := d.header()
	best := bestSize(tocs, d.size)
	if best < 0 {
		d.throw(ErrNoImages)
	}

	// Chunks are decoded in file order so that the underlying reader
	// never needs to seek backwards.
	slices.SortFunc(tocs, func(a, b fileToc) int { return cmp.Compare(a.Position, b.Position) })

	c = new(Cursor)
	for _, toc := range tocs {
		switch {
		case (toc.Type == chunkImage) && (int(toc.Subtype) == best):
			d.SeekTo(int(toc.Position))
			c.Frames = append(c.Frames, d.image(toc))
		case toc.Type == chunkComment:
			d.SeekTo(int(toc.Position))
			c.Comments = append(c.Comments, d.comment(toc))
		}
	}
	return c, nil
}

// bestSize returns the nominal image size closest to size, or -1 if
// there are no images.
func bestSize(tocs []fileToc, size int) int {
	best := -1
	for _, toc := range tocs {
		if toc.Type != chunkImage {
			continue
		}
		s := int(toc.Subtype)
		if (best < 0) || (abs(s-size) < abs(best-size)) {
			best = s
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (d *decoder) header() []fileToc {
	magic := d.uint32()
	if magic != fileMagic {
		d.throw(ErrBadMagic)
	}
	hsize := d.uint32()
	d.uint32() // Version.
	ntoc := int(d.uint32())
	d.SeekTo(int(hsize))

	tocs := make([]fileToc, 0, ntoc)
	for i := 0; i < ntoc; i++ {
		tocs = append(tocs, fileToc{
			Type:     d.uint32(),
			Subtype:  d.uint32(),
			Position: d.uint32(),
		})
	}

	return tocs
}

// chunk reads a chunk header and checks it against its table entry.
func (d *decoder) chunk(toc fileToc) (hsize int, version uint32) {
	start := d.n
	hsize = int(d.uint32())
	typ, subtype := d.uint32(), d.uint32()
	version = d.uint32()
	if (typ != toc.Type) || (subtype != toc.Subtype) {
		d.throw(fmt.Errorf("chunk at %v does not match its table entry", toc.Position))
	}
	return hsize - (d.n - start), version
}

func (d *decoder) image(toc fileToc) *Image {
	rest, version := d.chunk(toc)
	w, h := int(d.uint32()), int(d.uint32())
	xhot, yhot := int(d.uint32()), int(d.uint32())
	delay := d.uint32()
	d.Discard(rest - 5*4)

	if (w > maxImageSize) || (h > maxImageSize) || (xhot > w) || (yhot > h) {
		d.throw(fmt.Errorf("invalid %vx%v image with hotspot (%v, %v)", w, h, xhot, yhot))
	}

	img := shmimage.NewARGB8888(image.Rect(0, 0, w, h))
	row := make([]byte, w*4)
	for y := 0; y < h; y++ {
		d.full(row)
		for x := 0; x < w; x++ {
			px := binary.LittleEndian.Uint32(row[x*4:])
			img.SetARGB8888(x, y, shmimage.ARGB8888Color(px))
		}
	}

	return &Image{
		Version:     int(version),
		NominalSize: int(toc.Subtype),
		XHot:        xhot,
		YHot:        yhot,
		Delay:       time.Duration(delay) * time.Millisecond,
		Image:       img,
	}
}

func (d *decoder) comment(toc fileToc) *Comment {
	rest, version := d.chunk(toc)
	length := int(d.uint32())
	d.Discard(rest - 4)

	buf := make([]byte, length)
	d.full(buf)
	return &Comment{
		Subtype: CommentSubtype(toc.Subtype),
		Version: version,
		Comment: string(buf),
	}
}

func (d *decoder) full(buf []byte) {
	_, err := io.ReadFull(d, buf)
	d.throw(err)
}

func (d *decoder) uint32() (v uint32) {
	d.throw(binary.Read(d, binary.LittleEndian, &v))
	return v
}

func (d *decoder) Read(buf []byte) (int, error) {
	n, err := d.br.Read(buf)
	d.n += n
	if errors.Is(err, io.EOF) {
		return n, io.ErrUnexpectedEOF
	}
	d.throw(err)
	return n, err
}

func (d *decoder) Discard(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	disc, err := d.br.Discard(n)
	d.throw(err)
	d.n += disc
	return disc, err
}

func (d *decoder) SeekTo(n int) error {
	diff := n - d.n
	if diff < 0 {
		d.throw(fmt.Errorf("chunk at %v overlaps the previous one", n))
	}
	if diff == 0 {
		return nil
	}

	s, ok := d.r.(io.Seeker)
	if !ok || (diff <= d.br.Buffered()) {
		_, err := d.Discard(diff)
		d.throw(err)
		return nil
	}

	_, err := s.Seek(int64(n), io.SeekStart)
	d.throw(err)
	d.br.Reset(d.r)
	d.n = n
	return nil
}

type fileToc struct {
	Type     uint32
	Subtype  uint32
	Position uint32
}

type decoderError struct {
	err error
}

func (d *decoder) throw(err error) {
	if err != nil {
		panic(decoderError{err: err})
	}
}

func (d *decoder) catch(err *error) {
	switch r := recover().(type) {
	case decoderError:
		*err = r.err
		d.err = r.err
	case nil:
		if d.err != nil {
			*err = d.err
		}
	default:
		panic(r)
	}
}
