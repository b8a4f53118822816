package constants

const ProfileNotFoundErr = "no emergency profile found for person"
const AlertNotFoundErr = "no alert found"
const ReportNotFoundErr = "no welfare check report found"
const AlreadyResolvedErr = "alert has already been resolved"
const ConsentMissingErr = "consent must be obtained before the profile can be used for dispatch"
const UpstreamErr = "upstream store unavailable"
const RequestStructErr = "bad request structure"
