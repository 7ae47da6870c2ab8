// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import "github.com/q191201771/naza/pkg/nazalog"

var Log = nazalog.GetGlobalLogger()

// 周期性打印group数量的间隔
var logStatIntervalSec = 30

// 退出时等待所有资源释放的最长时间
var shutdownTimeoutMs = 5000
