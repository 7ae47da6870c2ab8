// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

//go:build windows
// +build windows

package base

import (
	"context"
	"os"
	"os/signal"
)

func RunSignalHandler(ctx context.Context, cb func()) {
	<-ctx.Done()
}

func NotifyExitContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}
