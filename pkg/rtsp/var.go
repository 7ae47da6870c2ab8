// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtsp

import "github.com/q191201771/naza/pkg/nazalog"

var Log = nazalog.GetGlobalLogger()

// 收包路径上debug日志打印的次数
var debugLogMaxCount = 3

// RelaySubscriberWriteChanSize tcp订阅者的异步发送队列长度，为0时同步发送
var RelaySubscriberWriteChanSize = 1024
