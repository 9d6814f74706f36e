// Package validator provides rule-based input validation.
//
// Each rule is a closure plus the error reported when it fails. Apply runs
// all rules and returns every failure at once:
//
//	err := validator.Apply(
//	    validator.Required("email", req.Email),
//	    validator.ValidEmail("email", req.Email),
//	    validator.When(req.Phone != "", validator.ValidPhone("phone", req.Phone)),
//	)
package validator
