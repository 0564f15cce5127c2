package client

import (
	"fmt"
	"math/rand"
)

// ParseFormUsage maps a FORM_USAGE_TYPE config value to a FormUsage,
// mirroring parse_conf.c's form_usage_type_parser string table.
func ParseFormUsage(v string) (FormUsage, error) {
	switch v {
	case "UNIQUE_USERS_AND_PASSWORDS":
		return FormUsageUniqueUsersAndPasswords, nil
	case "UNIQUE_USERS_SAME_PASSWORD":
		return FormUsageUniqueUsersSamePassword, nil
	case "SINGLE_USER":
		return FormUsageSingleUser, nil
	case "RECORDS_FROM_FILE":
		return FormUsageRecordsFromFile, nil
	case "AS_IS":
		return FormUsageAsIs, nil
	default:
		return FormUsageAsIs, fmt.Errorf("client: FORM_USAGE_TYPE must be one of "+
			"UNIQUE_USERS_AND_PASSWORDS, UNIQUE_USERS_SAME_PASSWORD, SINGLE_USER, "+
			"RECORDS_FROM_FILE, AS_IS, got %q", v)
	}
}

// ComposeBody builds the POST body to send for u on behalf of client
// clientIndex (0-based), mirroring loader.c's init_client_post_buffer
// switch over form_usage_type: FormTemplate is curl-loader's form_str,
// a printf-style format string filled in with the fields the usage type
// selects.
func ComposeBody(u URL, clientIndex int) []byte {
	if u.FormTemplate == "" {
		return u.PostData
	}
	switch u.FormUsage {
	case FormUsageUniqueUsersAndPasswords:
		return []byte(fmt.Sprintf(u.FormTemplate, u.Username, clientIndex+1, u.Password, clientIndex+1))
	case FormUsageUniqueUsersSamePassword:
		return []byte(fmt.Sprintf(u.FormTemplate, u.Username, clientIndex+1, u.Password))
	case FormUsageSingleUser:
		return []byte(fmt.Sprintf(u.FormTemplate, u.Username, u.Password))
	case FormUsageRecordsFromFile:
		if len(u.FormRecords) == 0 {
			return []byte(u.FormTemplate)
		}
		idx := clientIndex % len(u.FormRecords)
		if u.FormRecordsRandom {
			idx = rand.Intn(len(u.FormRecords))
		}
		rec := u.FormRecords[idx]
		return []byte(fmt.Sprintf(u.FormTemplate, rec.User, rec.Password))
	default: // FormUsageAsIs
		return []byte(u.FormTemplate)
	}
}
