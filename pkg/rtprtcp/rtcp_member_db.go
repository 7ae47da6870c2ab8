// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

// rtcpMemberDb 会话成员，key是ssrc，value是最后一次见到该成员时，我们已经发送的report的计数
//
// 成员数包含我们自己，所以初始值是1
type rtcpMemberDb struct {
	table      map[uint32]uint32
	numMembers int
}

func newRtcpMemberDb() *rtcpMemberDb {
	return &rtcpMemberDb{
		table:      make(map[uint32]uint32),
		numMembers: 1,
	}
}

func (db *rtcpMemberDb) isMember(ssrc uint32) bool {
	_, ok := db.table[ssrc]
	return ok
}

// noteMembership @return 是否是新成员
func (db *rtcpMemberDb) noteMembership(ssrc uint32, curReportCount uint32) bool {
	isNew := !db.isMember(ssrc)
	if isNew {
		db.numMembers++
	}
	db.table[ssrc] = curReportCount
	return isNew
}

func (db *rtcpMemberDb) remove(ssrc uint32) bool {
	if !db.isMember(ssrc) {
		return false
	}
	delete(db.table, ssrc)
	db.numMembers--
	return true
}

// oldMembers 最后一次见到时的计数小于<threshold>的成员
func (db *rtcpMemberDb) oldMembers(threshold uint32) []uint32 {
	var out []uint32
	for ssrc, count := range db.table {
		if count < threshold {
			out = append(out, ssrc)
		}
	}
	return out
}
