// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package h2645

// 无特殊说明的函数则同时支持h264和h265两种格式

var (
	NaluStartCode3 = []byte{0x0, 0x0, 0x1}
	NaluStartCode4 = []byte{0x0, 0x0, 0x0, 0x1}
)

const (
	H264NaluTypeSlice    uint8 = 1
	H264NaluTypeIdrSlice uint8 = 5
	H264NaluTypeSei      uint8 = 6
	H264NaluTypeSps      uint8 = 7
	H264NaluTypePps      uint8 = 8
	H264NaluTypeAud      uint8 = 9  // Access Unit Delimiter
	H264NaluTypeFd       uint8 = 12 // Filler Data
)

// ISO_IEC_23008-2_2013.pdf
// Table 7-1 – NAL unit type codes and NAL unit type classes
const (
	H265NaluTypeSliceTrailN uint8 = 0 // 0x0
	H265NaluTypeSliceTrailR uint8 = 1 // 0x01

	H265NaluTypeSliceBlaWlp       uint8 = 16 // 0x10
	H265NaluTypeSliceBlaWradl     uint8 = 17 // 0x11
	H265NaluTypeSliceBlaNlp       uint8 = 18 // 0x12
	H265NaluTypeSliceIdr          uint8 = 19 // 0x13
	H265NaluTypeSliceIdrNlp       uint8 = 20 // 0x14
	H265NaluTypeSliceCranut       uint8 = 21 // 0x15
	H265NaluTypeSliceRsvIrapVcl22 uint8 = 22 // 0x16
	H265NaluTypeSliceRsvIrapVcl23 uint8 = 23 // 0x17

	H265NaluTypeVps       uint8 = 32 // 0x20
	H265NaluTypeSps       uint8 = 33 // 0x21
	H265NaluTypePps       uint8 = 34 // 0x22
	H265NaluTypeAud       uint8 = 35 // 0x23
	H265NaluTypeSei       uint8 = 39 // 0x27
	H265NaluTypeSeiSuffix uint8 = 40 // 0x28
)

// ParseNaluType @param v nalu的第一个字节
func ParseNaluType(isH264 bool, v uint8) uint8 {
	if isH264 {
		return v & 0x1F
	}
	return (v & 0x7E) >> 1
}

// IsParamSet 是否是sps、pps，h265还包括vps
func IsParamSet(isH264 bool, typ uint8) bool {
	if isH264 {
		return typ == H264NaluTypeSps || typ == H264NaluTypePps
	}
	return typ == H265NaluTypeVps || typ == H265NaluTypeSps || typ == H265NaluTypePps
}

// IsKeyNalu h264的idr，h265的irap
func IsKeyNalu(isH264 bool, typ uint8) bool {
	if isH264 {
		return typ == H264NaluTypeIdrSlice
	}
	return typ >= H265NaluTypeSliceBlaWlp && typ <= H265NaluTypeSliceRsvIrapVcl23
}

// TrimStartCode 跳过开头的start code(00 00 01 或者 00 00 ... 00 01)
//
// @return 需要跳过的字节数，没有start code或者格式非法时返回0
func TrimStartCode(b []byte) int {
	if len(b) < 4 {
		return 0
	}
	if b[0] != 0 || b[1] != 0 {
		return 0
	}
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	if b[i] != 1 {
		return 0
	}
	return i + 1
}

// IterateNaluStartCode 遍历annexb格式的nalu流
//
// <handler>中的nal不包含start code
func IterateNaluStartCode(b []byte, handler func(nal []byte)) {
	start := -1
	i := 0
	for i+2 < len(b) {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			if start >= 0 {
				end := i
				// 4字节start code前面多出来的0
				for end > start && b[end-1] == 0 {
					end--
				}
				if end > start {
					handler(b[start:end])
				}
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(b) {
		handler(b[start:])
	}
}

// JoinNaluAnnexb 每个nalu前加上4字节的start code后拼接
func JoinNaluAnnexb(naluList ...[]byte) []byte {
	n := 0
	for _, item := range naluList {
		n += len(NaluStartCode4) + len(item)
	}
	if n == 0 {
		return nil
	}
	ret := make([]byte, 0, n)
	for _, item := range naluList {
		ret = append(ret, NaluStartCode4...)
		ret = append(ret, item...)
	}
	return ret
}
