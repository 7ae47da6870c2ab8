// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/q191201771/lalrtp/pkg/base"
)

const maxFileSuffix = 1000

// FileWriter 带缓冲的文件写入，实现了io.Writer
type FileWriter struct {
	fp *os.File
	bw *bufio.Writer
}

// CreateExclusive 不覆盖已存在的文件
//
// 依次尝试 <outPath>/<name>.ts, <outPath>/<name>-1.ts, <outPath>/<name>-2.ts ...
func (fw *FileWriter) CreateExclusive(outPath string, name string) (err error) {
	if err = os.MkdirAll(outPath, 0755); err != nil {
		return err
	}

	prefix := filepath.Join(outPath, name)
	filename := prefix + ".ts"
	for i := 1; ; i++ {
		fw.fp, err = os.OpenFile(filename, os.O_WRONLY|os.O_EXCL|os.O_CREATE, 0666)
		if err == nil || !os.IsExist(err) {
			break
		}
		if i > maxFileSuffix {
			return fmt.Errorf("%w. try open file %s-1 ~ %s-%d fail", base.ErrMpegts, prefix, prefix, maxFileSuffix)
		}
		filename = fmt.Sprintf("%s-%d.ts", prefix, i)
	}
	if err != nil {
		return err
	}
	fw.bw = bufio.NewWriter(fw.fp)
	return nil
}

func (fw *FileWriter) Write(b []byte) (int, error) {
	if fw.fp == nil {
		return 0, base.ErrMpegts
	}
	return fw.bw.Write(b)
}

func (fw *FileWriter) Dispose() error {
	if fw.fp == nil {
		return base.ErrMpegts
	}
	err := fw.bw.Flush()
	if cerr := fw.fp.Close(); err == nil {
		err = cerr
	}
	fw.fp = nil
	return err
}

func (fw *FileWriter) Name() string {
	if fw.fp == nil {
		return ""
	}
	return fw.fp.Name()
}
