// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import (
	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/h2645"
)

const initFrameBufferSize = 64 * 1024

// frameBuffer 合帧缓存
//
// 按需增长，上限是maxSize。写入后位置达到上限时，丢弃已有数据，从头开始写，并标记truncated
type frameBuffer struct {
	buf     []byte
	pos     int
	maxSize int

	truncated bool
}

func newFrameBuffer(maxSize int) *frameBuffer {
	if maxSize <= 0 {
		maxSize = base.MaxFrameBufferSize
	}
	initSize := initFrameBufferSize
	if initSize > maxSize {
		initSize = maxSize
	}
	return &frameBuffer{
		buf:     make([]byte, initSize),
		maxSize: maxSize,
	}
}

func (f *frameBuffer) append(b []byte) base.BufferStatus {
	status := base.BufferStatusOk
	if f.pos+len(b) >= f.maxSize {
		Log.Warnf("frame buffer overflow, reset. pos=%d, len=%d, max=%d", f.pos, len(b), f.maxSize)
		f.pos = 0
		f.truncated = true
		status = base.BufferStatusTruncated
		if len(b) >= f.maxSize {
			b = b[:f.maxSize-1]
		}
	}
	f.grow(f.pos + len(b))
	f.pos += copy(f.buf[f.pos:], b)
	return status
}

func (f *frameBuffer) putStartCode() base.BufferStatus {
	return f.append(h2645.NaluStartCode4)
}

func (f *frameBuffer) grow(need int) {
	if need <= len(f.buf) {
		return
	}
	n := len(f.buf) * 2
	for n < need {
		n *= 2
	}
	if n > f.maxSize {
		n = f.maxSize
	}
	buf := make([]byte, n)
	copy(buf, f.buf[:f.pos])
	f.buf = buf
}

func (f *frameBuffer) bytes() []byte {
	return f.buf[:f.pos]
}

func (f *frameBuffer) size() int {
	return f.pos
}

func (f *frameBuffer) reset() {
	f.pos = 0
	f.truncated = false
}
