// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazabytes"
)

// DumpFile 把收到的原始rtp、rtcp包按顺序写入文件，用于离线回放排查问题
//
// 每个消息的格式：
// 4字节版本 | 4字节类型 | 4字节长度 | 4字节相对打开文件时的毫秒数 | 数据
type DumpFile struct {
	mu       sync.Mutex
	fp       *os.File
	r        *bufio.Reader
	openTime time.Time
}

const (
	DumpTypeRtp  uint32 = 1
	DumpTypeRtcp uint32 = 2
)

const (
	dumpFileVersion      = 1
	dumpFileHeaderLength = 16

	// 避免读取损坏的文件时申请过大的内存
	dumpFileMaxBodyLength = MaxRtpPacketSize
)

type DumpFileMessage struct {
	Ver       uint32
	Typ       uint32
	Len       uint32
	Timestamp uint32
	Body      []byte
}

func NewDumpFile() *DumpFile {
	return &DumpFile{}
}

func (d *DumpFile) OpenToWrite(filename string) (err error) {
	if err = os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	d.fp, err = os.Create(filename)
	d.openTime = time.Now()
	return
}

func (d *DumpFile) OpenToRead(filename string) (err error) {
	if d.fp, err = os.Open(filename); err != nil {
		return err
	}
	d.r = bufio.NewReader(d.fp)
	return nil
}

// WriteWithType 协程安全，rtp和rtcp可能来自不同的读协程
func (d *DumpFile) WriteWithType(b []byte, typ uint32, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fp == nil {
		return ErrDumpFile
	}
	_, err := d.fp.Write(d.pack(b, typ, now))
	return err
}

// ReadOneMessage 文件结束时返回io.EOF
func (d *DumpFile) ReadOneMessage() (m DumpFileMessage, err error) {
	var header [dumpFileHeaderLength]byte
	if _, err = io.ReadFull(d.r, header[:]); err != nil {
		return
	}
	m.Ver = bele.BeUint32(header[:])
	m.Typ = bele.BeUint32(header[4:])
	m.Len = bele.BeUint32(header[8:])
	m.Timestamp = bele.BeUint32(header[12:])
	if m.Ver != dumpFileVersion || m.Len > dumpFileMaxBodyLength {
		return m, fmt.Errorf("%w. ver=%d, len=%d", ErrDumpFile, m.Ver, m.Len)
	}
	m.Body = make([]byte, m.Len)
	if _, err = io.ReadFull(d.r, m.Body); err != nil {
		return m, fmt.Errorf("%w. body truncated, err=%s", ErrDumpFile, err.Error())
	}
	return
}

func (d *DumpFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fp == nil {
		return nil
	}
	err := d.fp.Close()
	d.fp = nil
	return err
}

// ---------------------------------------------------------------------------------------------------------------------

func (m *DumpFileMessage) DebugString() string {
	return fmt.Sprintf("ver: %d, typ: %d, len: %d, timestamp: %d, hex: %s",
		m.Ver, m.Typ, m.Len, m.Timestamp, hex.Dump(nazabytes.Prefix(m.Body, 16)))
}

// ---------------------------------------------------------------------------------------------------------------------

func (d *DumpFile) pack(b []byte, typ uint32, now time.Time) []byte {
	ret := make([]byte, len(b)+dumpFileHeaderLength)
	bele.BePutUint32(ret, dumpFileVersion)
	bele.BePutUint32(ret[4:], typ)
	bele.BePutUint32(ret[8:], uint32(len(b)))
	bele.BePutUint32(ret[12:], uint32(now.Sub(d.openTime).Milliseconds()))
	copy(ret[dumpFileHeaderLength:], b)
	return ret
}
