package fileattr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedPacket is returned when an AttributePacket fails to
// parse.
var ErrMalformedPacket = errors.New("fileattr: malformed attribute packet")

// intEncoding is the base64 encoding applied to each field of the
// fixed tuple, over the field's 8-byte big-endian binary form. rclone's crypt backend
// (backend/crypt/cipher.go) uses base32/base64/base32768 as pluggable
// *name* encodings; AttributePacket's field encoding is simpler (one
// base64 string per integer, space separated) but follows the same
// "wrap an encoding.Encoding-shaped helper" idiom.
var intEncoding = base64.RawStdEncoding

func encodeInt(v int64) string {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (56 - 8*i))
	}
	return intEncoding.EncodeToString(buf[:])
}

func decodeInt(s string) (int64, error) {
	b, err := intEncoding.DecodeString(s)
	if err != nil || len(b) != 8 {
		return 0, ErrMalformedPacket
	}
	var v int64
	for i := 0; i < 8; i++ {
		v = v<<8 | int64(b[i])
	}
	return v, nil
}

// tupleFieldCount is the number of space-separated base64-int fields in
// the fixed tuple: dev ino mode nlink uid gid rdev size
// blksize blocks atime mtime ctime linkFI flags dataStream digestAlgo.
const tupleFieldCount = 17

// Packet is the parsed form of an AttributePacket.
type Packet struct {
	Stat       Stat
	LinkFI     uint32 // file_index of the hardlink target, 0 if none
	Flags      Flags
	DataStream int32 // the stream_id selected for this file's data phase, 0 if none
	DigestAlgo DigestAlgo // the job's file-digest algorithm, carried so a restore peer can verify against the right hash

	Path          string
	LinkTarget    string
	ExtendedAttrs []byte
	DeltaSeq      uint32
}

// EncodeTuple renders the fixed space-separated base64-int tuple
// (without the trailing NUL-delimited fields).
func EncodeTuple(p Packet) string {
	fields := []int64{
		int64(p.Stat.Dev), int64(p.Stat.Ino), int64(p.Stat.Mode), int64(p.Stat.Nlink),
		int64(p.Stat.UID), int64(p.Stat.GID), int64(p.Stat.Rdev), p.Stat.Size,
		p.Stat.Blksize, p.Stat.Blocks,
		p.Stat.Atime.Unix(), p.Stat.Mtime.Unix(), p.Stat.Ctime.Unix(),
		int64(p.LinkFI), int64(p.Flags), int64(p.DataStream), int64(p.DigestAlgo),
	}
	parts := make([]string, len(fields))
	for i, v := range fields {
		parts[i] = encodeInt(v)
	}
	return strings.Join(parts, " ")
}

// DecodeTuple parses the fixed tuple produced by EncodeTuple.
func DecodeTuple(s string) (Packet, error) {
	parts := strings.Fields(s)
	if len(parts) != tupleFieldCount {
		return Packet{}, fmt.Errorf("%w: expected %d tuple fields, got %d", ErrMalformedPacket, tupleFieldCount, len(parts))
	}
	vals := make([]int64, tupleFieldCount)
	for i, p := range parts {
		v, err := decodeInt(p)
		if err != nil {
			return Packet{}, err
		}
		vals[i] = v
	}
	return Packet{
		Stat: Stat{
			Dev: uint64(vals[0]), Ino: uint64(vals[1]), Mode: uint32(vals[2]), Nlink: uint32(vals[3]),
			UID: uint32(vals[4]), GID: uint32(vals[5]), Rdev: uint64(vals[6]), Size: vals[7],
			Blksize: vals[8], Blocks: vals[9],
			Atime: time.Unix(vals[10], 0), Mtime: time.Unix(vals[11], 0), Ctime: time.Unix(vals[12], 0),
		},
		LinkFI:     uint32(vals[13]),
		Flags:      Flags(vals[14]),
		DataStream: int32(vals[15]),
		DigestAlgo: DigestAlgo(vals[16]),
	}, nil
}

// const sep is the NUL field delimiter used for the
// AttributePacket's variable tail: path NUL linkTarget NUL extAttrs
// NUL deltaSeq NUL.
const sep = "\x00"

// Encode renders the full wire payload for an AttributePacket: the
// tuple once, then path, link target, extended attrs and delta
// sequence, each of the five NUL-terminated.
func Encode(p Packet) []byte {
	tuple := EncodeTuple(p)
	var b strings.Builder
	b.WriteString(tuple)
	b.WriteString(sep)
	b.WriteString(p.Path)
	b.WriteString(sep)
	b.WriteString(p.LinkTarget)
	b.WriteString(sep)
	b.Write(p.ExtendedAttrs)
	b.WriteString(sep)
	b.WriteString(strconv.FormatUint(uint64(p.DeltaSeq), 10))
	b.WriteString(sep)
	return []byte(b.String())
}

// Decode parses the wire payload produced by Encode.
func Decode(payload []byte) (Packet, error) {
	fields := strings.SplitN(string(payload), sep, 6)
	if len(fields) < 5 {
		return Packet{}, fmt.Errorf("%w: expected 5 NUL-delimited fields, got %d", ErrMalformedPacket, len(fields))
	}
	p, err := DecodeTuple(fields[0])
	if err != nil {
		return Packet{}, err
	}
	p.Path = fields[1]
	p.LinkTarget = fields[2]
	if len(fields[3]) > 0 {
		p.ExtendedAttrs = []byte(fields[3])
	}
	if fields[4] != "" {
		seq, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil {
			return Packet{}, fmt.Errorf("%w: bad delta sequence: %v", ErrMalformedPacket, err)
		}
		p.DeltaSeq = uint32(seq)
	}
	return p, nil
}

// FromEntry builds a Packet from a FileEntry at attribute-emission
// time: the path is the stripped EffectivePath, and
// LinkTarget is populated only for link-bearing classifications.
func FromEntry(e *FileEntry, fileIndex, linkFI uint32, dataStream int32) Packet {
	p := Packet{
		Stat:          e.Stat,
		LinkFI:        linkFI,
		Flags:         e.Flags,
		DataStream:    dataStream,
		DigestAlgo:    e.DigestAlgo,
		Path:          e.EffectivePath(),
		ExtendedAttrs: e.ExtendedAttrs,
		DeltaSeq:      e.DeltaSeq,
	}
	if e.Class.IsLinkBearing() {
		p.LinkTarget = e.LinkTarget
	}
	return p
}

// HardlinkRecord renders the bit-exact hardlink wire record payload
// in the classic form `"%ld %d %s\0%s\0%s\0%s\0%u\0"` — index, type,
// filename, attrs, linkTo, extAttrs, deltaSeq. The (index, type)
// prefix is carried in the StreamCodec header, not here; this function
// only builds the string-field portion.
func HardlinkRecord(filename, attrs, linkTo string, extAttrs []byte, deltaSeq uint32) []byte {
	var b strings.Builder
	b.WriteString(filename)
	b.WriteString(sep)
	b.WriteString(attrs)
	b.WriteString(sep)
	b.WriteString(linkTo)
	b.WriteString(sep)
	b.Write(extAttrs)
	b.WriteString(sep)
	b.WriteString(strconv.FormatUint(uint64(deltaSeq), 10))
	b.WriteString(sep)
	return []byte(b.String())
}
