package mail

import "fmt"

// Result is the outcome of a single delivery attempt.
type Result int

const (
	ResultSuccess    Result = 1
	ResultSuppressed Result = 2
	ResultFailure    Result = 3
)

// ParseResult maps a result name to a Result.
func ParseResult(name string) (Result, error) {
	switch name {
	case "success":
		return ResultSuccess, nil
	case "suppressed":
		return ResultSuppressed, nil
	case "failure":
		return ResultFailure, nil
	default:
		return 0, fmt.Errorf("unknown result %q", name)
	}
}

// ResultFromCode maps a storage code back to a Result.
func ResultFromCode(code int) (Result, error) {
	r := Result(code)
	if r < ResultSuccess || r > ResultFailure {
		return 0, fmt.Errorf("unknown result code %d", code)
	}
	return r, nil
}

// Code returns the storage code for r.
func (r Result) Code() int {
	return int(r)
}

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultSuppressed:
		return "suppressed"
	case ResultFailure:
		return "failure"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}
