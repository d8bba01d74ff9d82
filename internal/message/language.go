package message

// Language enumerates the supported submission languages. Literal strings are
// part of the wire contract.
type Language string

const (
	LanguageCPP        Language = "CPP"
	LanguageJava       Language = "JAVA"
	LanguagePython     Language = "PYTHON"
	LanguageJavaScript Language = "JAVASCRIPT"
)

// IsValid reports whether the language is a known enumeration member.
func (l Language) IsValid() bool {
	switch l {
	case LanguageCPP, LanguageJava, LanguagePython, LanguageJavaScript:
		return true
	default:
		return false
	}
}
