package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamSnapshotKey returns the cache key for an exam's full snapshot (answer key included).
// Never serve this value to students.
func (r *CacheKeyStruct) ExamSnapshotKey(examID string) string {
	return fmt.Sprintf("exam:%s:snapshot", examID)
}

// StudentExamLockKey is the advisory lock name guarding attempt creation
// for one (student, exam) pair.
func (r *CacheKeyStruct) StudentExamLockKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:start", studentID, examID)
}

// ExamRankLockKey is the advisory lock name serializing rank recomputation per exam.
func (r *CacheKeyStruct) ExamRankLockKey(examID string) string {
	return fmt.Sprintf("exam:%s:rank", examID)
}

// StudentSessionKey holds the jti of a student's active login, maintained by
// the identity service.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

var CacheKey = NewCacheKeyStruct()
