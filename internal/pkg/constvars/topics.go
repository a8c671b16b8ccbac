package constvars

// Topic names are a stable contract shared with every mediator instance.
const (
	TopicSendADTToIPMS     = "send-adt-to-ipms"
	TopicSendORMToIPMS     = "send-orm-to-ipms"
	TopicSavePIMSPatient   = "save-pims-patient"
	TopicSaveIPMSPatient   = "save-ipms-patient"
	TopicHandleORUFromIPMS = "handle-oru-from-ipms"
	TopicHandleADTFromIPMS = "handle-adt-from-ipms"
	TopicDeadLetter        = "dmq"

	// TopicSendHL7 tags dead-letter records produced by the MLLP sender itself.
	TopicSendHL7 = "send-hl7-to-ipms"
)

// WorkflowTopics lists every topic the saga engine consumes.
var WorkflowTopics = []string{
	TopicSendADTToIPMS,
	TopicSendORMToIPMS,
	TopicSavePIMSPatient,
	TopicSaveIPMSPatient,
	TopicHandleORUFromIPMS,
	TopicHandleADTFromIPMS,
}
