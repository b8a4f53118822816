package dispatchaws

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
)

// Makes this easier to mock and unit test
var ssmNew = ssm.New
var ssmsvcGetParameter = (*ssm.SSM).GetParameter

// GetParameter reads a decrypted value from the SSM parameter store.
func GetParameter(s *session.Session, keyname string) (string, error) {
	ssmsvc := ssmNew(s)

	withDecryption := true
	result, err := ssmsvcGetParameter(ssmsvc, &ssm.GetParameterInput{
		Name:           &keyname,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("error retrieving parameter %s from parameter store: %w", keyname, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil || *result.Parameter.Value == "" {
		return "", fmt.Errorf("no parameter store value found for %s", keyname)
	}

	return *result.Parameter.Value, nil
}
