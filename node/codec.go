package node

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/erigontech/mpt/chunkoffset"
	"github.com/erigontech/mpt/nibble"
)

const (
	flagHasValue           = 1 << 0
	flagHasData            = 1 << 1
	flagHasPath            = 1 << 2
	flagStartNibbleOfPath  = 1 << 3
	flagHasSubtrieVersions = 1 << 4

	maxDataLen = 32
)

func packOffset48(o chunkoffset.Offset) [6]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(o))
	var out [6]byte
	copy(out[:], b[:6])
	return out
}

func unpackOffset48(b []byte) chunkoffset.Offset {
	var full [8]byte
	copy(full[:6], b[:6])
	return chunkoffset.Offset(binary.LittleEndian.Uint64(full[:]))
}

// Serialize produces the self-delimited on-disk encoding of n. Every child
// must already be flushed (ChildRef.InMemory == nil); Serialize returns an
// error otherwise, since an unflushed child has no durable chunk_offset to
// record.
func (n *Node) Serialize() ([]byte, error) {
	buf := &bytes.Buffer{}

	var flags byte
	if n.HasValue {
		flags |= flagHasValue
	}
	if n.HasData {
		flags |= flagHasData
	}
	var pathPacked []byte
	var pathStartNibble bool
	var pathNibbleLen int
	if n.HasPath {
		flags |= flagHasPath
		pathPacked, pathStartNibble, pathNibbleLen = n.Path.Encode()
		if pathStartNibble {
			flags |= flagStartNibbleOfPath
		}
	}

	hasSubtrieVersions := false
	for i := 0; i < 16; i++ {
		if n.Children[i] != nil && n.Children[i].HasSubtrieMinVersion {
			hasSubtrieVersions = true
			break
		}
	}
	if hasSubtrieVersions {
		flags |= flagHasSubtrieVersions
	}

	var maskBuf [2]byte
	binary.LittleEndian.PutUint16(maskBuf[:], n.Mask)
	buf.Write(maskBuf[:])
	buf.WriteByte(flags)

	for i := 0; i < 16; i++ {
		if n.Mask&(1<<uint(i)) == 0 {
			continue
		}
		c := n.Children[i]
		if c == nil {
			return nil, fmt.Errorf("%w: mask bit %d set but child nil", ErrBadNode, i)
		}
		if c.InMemory != nil || !c.Offset.IsValid() {
			return nil, fmt.Errorf("node: child %d not flushed, cannot serialize", i)
		}
		if len(c.Data) > maxDataLen {
			return nil, fmt.Errorf("node: child %d data length %d exceeds %d", i, len(c.Data), maxDataLen)
		}
		var sizeBuf [4]byte
		binary.LittleEndian.PutUint32(sizeBuf[:], c.DiskSize)
		buf.Write(sizeBuf[:])
		off := packOffset48(c.Offset)
		buf.Write(off[:])
		buf.WriteByte(byte(len(c.Data)))
		buf.Write(c.Data)
		if hasSubtrieVersions {
			var vbuf [8]byte
			binary.LittleEndian.PutUint64(vbuf[:], c.SubtrieMinVersion)
			buf.Write(vbuf[:])
		}
	}

	if n.HasPath {
		if pathNibbleLen > 255 {
			return nil, fmt.Errorf("node: path length %d exceeds 255 nibbles", pathNibbleLen)
		}
		buf.WriteByte(byte(pathNibbleLen))
		buf.Write(pathPacked)
	} else {
		buf.WriteByte(0)
	}

	if n.HasValue {
		var vlen [4]byte
		binary.LittleEndian.PutUint32(vlen[:], uint32(len(n.Value)))
		buf.Write(vlen[:])
		buf.Write(n.Value)
	} else {
		var vlen [4]byte
		buf.Write(vlen[:])
	}

	if n.HasData {
		if len(n.Data) > maxDataLen {
			return nil, fmt.Errorf("node: own data length %d exceeds %d", len(n.Data), maxDataLen)
		}
		buf.WriteByte(byte(len(n.Data)))
		buf.Write(n.Data)
	} else {
		buf.WriteByte(0)
	}

	var verBuf [8]byte
	binary.LittleEndian.PutUint64(verBuf[:], n.Version)
	buf.Write(verBuf[:])

	return buf.Bytes(), nil
}

// Parse decodes a node from buf, returning the node and the number of bytes
// consumed. buf may hold trailing bytes beyond the node (e.g. a
// page-aligned read); callers that need to know the exact size the node
// occupies on disk use the returned consumed count.
func Parse(buf []byte) (*Node, int, error) {
	pos := 0
	need := func(n int) error {
		if pos+n > len(buf) {
			return fmt.Errorf("%w: truncated buffer at offset %d, need %d more bytes", ErrBadNode, pos, n)
		}
		return nil
	}

	if err := need(3); err != nil {
		return nil, 0, err
	}
	n := &Node{}
	n.Mask = binary.LittleEndian.Uint16(buf[pos:])
	pos += 2
	flags := buf[pos]
	pos++

	hasValue := flags&flagHasValue != 0
	hasData := flags&flagHasData != 0
	hasPath := flags&flagHasPath != 0
	startNibbleOfPath := flags&flagStartNibbleOfPath != 0
	hasSubtrieVersions := flags&flagHasSubtrieVersions != 0

	for i := 0; i < 16; i++ {
		if n.Mask&(1<<uint(i)) == 0 {
			continue
		}
		if err := need(4 + 6 + 1); err != nil {
			return nil, 0, err
		}
		c := &ChildRef{}
		c.DiskSize = binary.LittleEndian.Uint32(buf[pos:])
		pos += 4
		c.Offset = unpackOffset48(buf[pos:])
		pos += 6
		dlen := int(buf[pos])
		pos++
		if dlen > maxDataLen {
			return nil, 0, fmt.Errorf("%w: child %d data length %d exceeds %d", ErrBadNode, i, dlen, maxDataLen)
		}
		if err := need(dlen); err != nil {
			return nil, 0, err
		}
		if dlen > 0 {
			c.Data = append([]byte(nil), buf[pos:pos+dlen]...)
			pos += dlen
		}
		if hasSubtrieVersions {
			if err := need(8); err != nil {
				return nil, 0, err
			}
			c.SubtrieMinVersion = binary.LittleEndian.Uint64(buf[pos:])
			c.HasSubtrieMinVersion = true
			pos += 8
		}
		n.Children[i] = c
	}

	if err := need(1); err != nil {
		return nil, 0, err
	}
	pathNibbleLen := int(buf[pos])
	pos++
	if hasPath {
		s := 0
		if startNibbleOfPath {
			s = 1
		}
		byteLen := (pathNibbleLen + s + 1) / 2
		if err := need(byteLen); err != nil {
			return nil, 0, err
		}
		packed := append([]byte(nil), buf[pos:pos+byteLen]...)
		n.Path = nibble.Decode(packed, startNibbleOfPath, pathNibbleLen)
		n.HasPath = true
		pos += byteLen
	} else if pathNibbleLen != 0 {
		return nil, 0, fmt.Errorf("%w: path_len %d set without has_path flag", ErrBadNode, pathNibbleLen)
	}

	if err := need(4); err != nil {
		return nil, 0, err
	}
	vlen := int(binary.LittleEndian.Uint32(buf[pos:]))
	pos += 4
	if hasValue {
		if err := need(vlen); err != nil {
			return nil, 0, err
		}
		n.Value = append([]byte(nil), buf[pos:pos+vlen]...)
		n.HasValue = true
		pos += vlen
	} else if vlen != 0 {
		return nil, 0, fmt.Errorf("%w: value_len %d set without has_value flag", ErrBadNode, vlen)
	}

	if err := need(1); err != nil {
		return nil, 0, err
	}
	dlen := int(buf[pos])
	pos++
	if dlen > maxDataLen {
		return nil, 0, fmt.Errorf("%w: own data length %d exceeds %d", ErrBadNode, dlen, maxDataLen)
	}
	if hasData {
		if err := need(dlen); err != nil {
			return nil, 0, err
		}
		n.Data = append([]byte(nil), buf[pos:pos+dlen]...)
		n.HasData = true
		pos += dlen
	} else if dlen != 0 {
		return nil, 0, fmt.Errorf("%w: own data_len %d set without has_data flag", ErrBadNode, dlen)
	}

	if err := need(8); err != nil {
		return nil, 0, err
	}
	n.Version = binary.LittleEndian.Uint64(buf[pos:])
	pos += 8

	return n, pos, nil
}
