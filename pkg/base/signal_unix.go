// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package base

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// RunSignalHandler 每收到一次SIGUSR1都回调一次cb，直到ctx结束
//
// 上层用来打印所有源的接收统计
func RunSignalHandler(ctx context.Context, cb func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGUSR1)
	defer signal.Stop(c)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c:
			Log.Infof("recv signal. s=%+v", s)
			cb()
		}
	}
}

// NotifyExitContext SIGINT或SIGTERM时结束返回的ctx
func NotifyExitContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
