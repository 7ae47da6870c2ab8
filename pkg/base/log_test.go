// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base_test

import (
	"testing"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
	"github.com/q191201771/naza/pkg/nazalog"
)

func newTestLogger(t *testing.T, level nazalog.Level) nazalog.Logger {
	l, err := nazalog.New(func(option *nazalog.Option) {
		option.Level = level
		option.IsToStdout = false
	})
	assert.Equal(t, nil, err)
	return l
}

func TestLogDump(t *testing.T) {
	// debug级别只打印前2次
	d := base.NewLogDump(newTestLogger(t, nazalog.LevelDebug), 2)
	assert.Equal(t, true, d.ShouldDump())
	d.Outf("dump %d", 1)
	assert.Equal(t, true, d.ShouldDump())
	assert.Equal(t, false, d.ShouldDump())
	assert.Equal(t, false, d.ShouldDump())

	d = base.NewLogDump(newTestLogger(t, nazalog.LevelTrace), 0)
	for i := 0; i < 5; i++ {
		assert.Equal(t, true, d.ShouldDump())
	}

	d = base.NewLogDump(newTestLogger(t, nazalog.LevelInfo), 10)
	assert.Equal(t, false, d.ShouldDump())
}
