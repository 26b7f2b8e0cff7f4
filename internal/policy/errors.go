package policy

import "fmt"

// Code is the wire-visible error taxonomy, each mapping to a
// documented completion code over the legacy IPMI transport; here it is
// just the tag on a typed Go error.
type Code int

const (
	CodeInvalidPolicyId Code = iota
	CodeInvalidDomainId
	CodeInvalidComponentId
	CodeInvalidPolicyStorage
	CodeInvalidLimitException
	CodeInvalidPowerCorrectionType
	CodeCorrectionTimeOutOfRange
	CodePowerLimitOutOfRange
	CodeTriggerValueOutOfRange
	CodeStatRepPeriodOutOfRange
	CodeUnsupportedPolicyTriggerType
	CodePoliciesCannotBeCreated
	CodeReadingSourceUnavailable
	CodeOperationNotPermitted
	CodeOutOfRange
	CodeCmdNotSupported
	CodeInvalidArgument
)

var codeNames = map[Code]string{
	CodeInvalidPolicyId:             "InvalidPolicyId",
	CodeInvalidDomainId:             "InvalidDomainId",
	CodeInvalidComponentId:          "InvalidComponentId",
	CodeInvalidPolicyStorage:        "InvalidPolicyStorage",
	CodeInvalidLimitException:       "InvalidLimitException",
	CodeInvalidPowerCorrectionType:  "InvalidPowerCorrectionType",
	CodeCorrectionTimeOutOfRange:    "CorrectionTimeOutOfRange",
	CodePowerLimitOutOfRange:        "PowerLimitOutOfRange",
	CodeTriggerValueOutOfRange:      "TriggerValueOutOfRange",
	CodeStatRepPeriodOutOfRange:     "StatRepPeriodOutOfRange",
	CodeUnsupportedPolicyTriggerType: "UnsupportedPolicyTriggerType",
	CodePoliciesCannotBeCreated:     "PoliciesCannotBeCreated",
	CodeReadingSourceUnavailable:    "ReadingSourceUnavailable",
	CodeOperationNotPermitted:       "OperationNotPermitted",
	CodeOutOfRange:                  "OutOfRange",
	CodeCmdNotSupported:             "CmdNotSupported",
	CodeInvalidArgument:             "InvalidArgument",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "Unknown"
}

// Error is the typed, wire-marshalable validation/operation error every
// policy-facing function returns instead of panicking. Its shape — a typed
// code plus a human field name and message — mirrors the ViolationType
// plus descriptive message pairing used for decision-replay checks
// elsewhere in this codebase; here the "violation" is a parameter bound,
// not a decision-replay check.
type Error struct {
	Code  Code
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("policy: %s (%s): %s", e.Code, e.Field, e.Msg)
	}
	return fmt.Sprintf("policy: %s: %s", e.Code, e.Msg)
}

func newErr(code Code, field, msg string) *Error {
	return &Error{Code: code, Field: field, Msg: msg}
}
