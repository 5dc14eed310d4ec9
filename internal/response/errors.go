package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

// Authentication and login session.
const (
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrStudentAccessOnly  ErrCode = "STUDENT_ACCESS_ONLY"
)

// Request shape.
const (
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
)

// Attempt lifecycle.
const (
	ErrExamNotAvailable     ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamOutOfWindow      ErrCode = "EXAM_OUT_OF_WINDOW"
	ErrAttemptLimitExceeded ErrCode = "ATTEMPT_LIMIT_EXCEEDED"
	ErrAttemptNotFound      ErrCode = "ATTEMPT_NOT_FOUND"
	ErrInvalidExamSession   ErrCode = "INVALID_EXAM_SESSION"
	ErrAttemptFinalized     ErrCode = "ATTEMPT_ALREADY_FINALIZED"
	ErrAttemptInProgress    ErrCode = "ATTEMPT_IN_PROGRESS"
)

const (
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"
	ErrInternal          ErrCode = "INTERNAL_ERROR"
)

// Student-facing texts, shown verbatim by the exam client.
var messages = map[ErrCode]string{
	ErrTokenRequired:      "Token autentikasi diperlukan.",
	ErrTokenInvalid:       "Token autentikasi tidak valid.",
	ErrTokenExpired:       "Token autentikasi sudah kedaluwarsa. Silakan login kembali.",
	ErrSessionInvalidated: "Akun Anda sedang digunakan di perangkat lain. Silakan login kembali.",
	ErrStudentAccessOnly:  "Sumber daya ini terbatas untuk siswa.",

	ErrValidation:     "Validasi gagal. Silakan periksa jawaban Anda.",
	ErrInvalidID:      "Format ID tidak valid.",
	ErrInvalidPayload: "Payload permintaan tidak valid.",

	ErrExamNotAvailable:     "Ujian ini saat ini tidak tersedia.",
	ErrExamOutOfWindow:      "Ujian belum dibuka atau sudah ditutup.",
	ErrAttemptLimitExceeded: "Batas jumlah percobaan ujian telah tercapai.",
	ErrAttemptNotFound:      "Percobaan ujian tidak ditemukan.",
	ErrInvalidExamSession:   "Sesi ujian tidak valid. Silakan buka ulang ujian.",
	ErrAttemptFinalized:     "Ujian ini sudah dikumpulkan.",
	ErrAttemptInProgress:    "Hasil belum tersedia karena ujian masih berlangsung.",

	ErrRateLimitExceeded: "Terlalu banyak laporan dalam waktu singkat. Silakan coba lagi nanti.",
	ErrInternal:          "Terjadi kesalahan server internal.",
}

// GetMessage returns the student-facing message for a code.
func GetMessage(code ErrCode) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Terjadi kesalahan yang tidak terduga."
}
