// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package sdp

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// ParseSpsPps 解析AVC/H264的sprop-parameter-sets，逗号分隔的每一项对应一个nalu
//
// 通常是sps和pps两项，但也可能有多个sps或pps
func ParseSpsPps(a *AFmtPBase) ([][]byte, error) {
	v, ok := a.Get("sprop-parameter-sets")
	if !ok {
		return nil, base.NewErrSdpParamMiss("sprop-parameter-sets")
	}

	var ret [][]byte
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		nal, err := base64.StdEncoding.DecodeString(item)
		if err != nil {
			return nil, nazaerrors.Wrap(err)
		}
		ret = append(ret, nal)
	}
	return ret, nil
}

func ParseVpsSpsPps(a *AFmtPBase) (vps, sps, pps []byte, err error) {
	if vps, err = decodeBase64Param(a, "sprop-vps"); err != nil {
		return
	}
	if sps, err = decodeBase64Param(a, "sprop-sps"); err != nil {
		return
	}
	pps, err = decodeBase64Param(a, "sprop-pps")
	return
}

// ParseHexConfig 解析十六进制的config字段
//
// MPEG4-GENERIC中是AudioSpecificConfig，MP4V-ES中是VOL等头信息
func ParseHexConfig(a *AFmtPBase) ([]byte, error) {
	v, ok := a.Get("config")
	if !ok {
		return nil, base.NewErrSdpParamMiss("config")
	}
	v = strings.TrimSpace(v)
	if len(v) == 0 || len(v)%2 != 0 {
		return nil, nazaerrors.Wrap(base.ErrSdpFmtp)
	}
	ret, err := hex.DecodeString(v)
	if err != nil {
		return nil, nazaerrors.Wrap(err)
	}
	return ret, nil
}

// ParseAuHeaderLength rfc3640 4.1，sizelength必须存在，另外两个不存在时为0
func ParseAuHeaderLength(a *AFmtPBase) (sizeLength, indexLength, indexDeltaLength int, err error) {
	if sizeLength, err = a.GetInt("sizelength"); err != nil {
		return
	}
	if _, ok := a.Get("indexlength"); ok {
		if indexLength, err = a.GetInt("indexlength"); err != nil {
			return
		}
	}
	if _, ok := a.Get("indexdeltalength"); ok {
		indexDeltaLength, err = a.GetInt("indexdeltalength")
	}
	return
}

func decodeBase64Param(a *AFmtPBase, key string) ([]byte, error) {
	v, ok := a.Get(key)
	if !ok {
		return nil, base.NewErrSdpParamMiss(key)
	}
	ret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
	if err != nil {
		return nil, nazaerrors.Wrap(err)
	}
	return ret, nil
}
