// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "github.com/q191201771/naza/pkg/unique"

const (
	UkPreMediaSource  = "MEDIASRC"
	UkPreRtcpInstance = "RTCP"
	UkPreRelayStream  = "RELAYSTREAM"
	UkPreRelaySubUdp  = "RELAYSUBUDP"
	UkPreRelaySubTcp  = "RELAYSUBTCP"
	UkPreTsRecorder   = "TSREC"
	UkPreRtpUnpacker  = "UNPACKER"
)

func GenUkMediaSource() string {
	return siUkMediaSource.GenUniqueKey()
}

func GenUkRtcpInstance() string {
	return siUkRtcpInstance.GenUniqueKey()
}

func GenUkRelayStream() string {
	return siUkRelayStream.GenUniqueKey()
}

func GenUkRelaySubUdp() string {
	return siUkRelaySubUdp.GenUniqueKey()
}

func GenUkRelaySubTcp() string {
	return siUkRelaySubTcp.GenUniqueKey()
}

func GenUkTsRecorder() string {
	return siUkTsRecorder.GenUniqueKey()
}

func GenUkRtpUnpacker() string {
	return siUkRtpUnpacker.GenUniqueKey()
}

var (
	siUkMediaSource  *unique.SingleGenerator
	siUkRtcpInstance *unique.SingleGenerator
	siUkRelayStream  *unique.SingleGenerator
	siUkRelaySubUdp  *unique.SingleGenerator
	siUkRelaySubTcp  *unique.SingleGenerator
	siUkTsRecorder   *unique.SingleGenerator
	siUkRtpUnpacker  *unique.SingleGenerator
)

func init() {
	siUkMediaSource = unique.NewSingleGenerator(UkPreMediaSource)
	siUkRtcpInstance = unique.NewSingleGenerator(UkPreRtcpInstance)
	siUkRelayStream = unique.NewSingleGenerator(UkPreRelayStream)
	siUkRelaySubUdp = unique.NewSingleGenerator(UkPreRelaySubUdp)
	siUkRelaySubTcp = unique.NewSingleGenerator(UkPreRelaySubTcp)
	siUkTsRecorder = unique.NewSingleGenerator(UkPreTsRecorder)
	siUkRtpUnpacker = unique.NewSingleGenerator(UkPreRtpUnpacker)
}
