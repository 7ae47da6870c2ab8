// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtsp

import (
	"fmt"
	"net"
	"sync"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/nazanet"
)

// IPortAllocator 为一路media分配rtp、rtcp两个udp端口
//
// rtp端口为偶数，rtcp端口为rtp端口加1
type IPortAllocator interface {
	AcquirePair() (rtpConn, rtcpConn *net.UDPConn, rtpPort uint16, err error)
}

// UdpPortAllocator 从一段本地UDP端口范围内，取出两个连续的、还没被绑定监听使用的UDP端口
type UdpPortAllocator struct {
	minPort uint16
	maxPort uint16

	mu   sync.Mutex
	pool *nazanet.AvailUdpConnPool
}

var _ IPortAllocator = &UdpPortAllocator{}

// 调用方保证maxPort大于minPort
func NewUdpPortAllocator(minPort, maxPort uint16) *UdpPortAllocator {
	return &UdpPortAllocator{
		minPort: minPort,
		maxPort: maxPort,
		pool:    nazanet.NewAvailUdpConnPool(minPort, maxPort),
	}
}

func (a *UdpPortAllocator) AcquirePair() (rtpConn, rtcpConn *net.UDPConn, rtpPort uint16, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 奇数开头的那一对直接关闭重试，最多把整个范围试一遍
	tries := int(a.maxPort-a.minPort)/2 + 1
	for i := 0; i < tries; i++ {
		var rtcpPort uint16
		rtpConn, rtpPort, rtcpConn, rtcpPort, err = a.pool.Acquire2()
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w. range=[%d, %d], err=%s", base.ErrRtspPortExhausted, a.minPort, a.maxPort, err.Error())
		}
		if rtpPort%2 == 0 && rtcpPort == rtpPort+1 {
			Log.Debugf("acquire udp conn. rtp port=%d, rtcp port=%d", rtpPort, rtcpPort)
			return rtpConn, rtcpConn, rtpPort, nil
		}
		_ = rtpConn.Close()
		_ = rtcpConn.Close()
	}
	return nil, nil, 0, fmt.Errorf("%w. range=[%d, %d]", base.ErrRtspPortExhausted, a.minPort, a.maxPort)
}
