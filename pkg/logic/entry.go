// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"context"
	"time"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/nazalog"
)

// Entry 加载配置，启动所有服务，阻塞直到收到SIGINT或SIGTERM，然后在限定时间内释放所有资源
func Entry(confFile string) error {
	config, err := LoadConfAndInitLog(confFile)
	if err != nil {
		return err
	}

	ctx, stop := base.NotifyExitContext(context.Background())
	defer stop()

	sm := NewServerManager(config)
	runErr := sm.RunLoop(ctx)
	if runErr != nil {
		Log.Errorf("server manager run loop failed. err=%+v", runErr)
	} else {
		Log.Info("recv exit signal.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeoutMs)*time.Millisecond)
	defer cancel()
	if err = sm.Shutdown(shutdownCtx); err != nil {
		Log.Warnf("shutdown server manager. err=%+v", err)
	}
	Log.Info("bye.")
	nazalog.Sync()
	return runErr
}
