package message

// Messages known before the server's table has been imported.
const (
	LoginappImportClientMessages = "Loginapp_importClientMessages"
	BaseappImportClientMessages  = "Baseapp_importClientMessages"
	BaseappImportClientEntityDef = "Baseapp_importClientEntityDef"
	ClientOnImportClientMessages = "Client_onImportClientMessages"
)

// Names of the messages the handshake sends or handles once imported.
const (
	LoginappHello                   = "Loginapp_hello"
	LoginappLogin                   = "Loginapp_login"
	LoginappReqCreateAccount        = "Loginapp_reqCreateAccount"
	LoginappImportServerErrorsDescr = "Loginapp_importServerErrorsDescr"
	LoginappOnClientActiveTick      = "Loginapp_onClientActiveTick"
	BaseappHello                    = "Baseapp_hello"
	BaseappLoginBaseapp             = "Baseapp_loginBaseapp"
	BaseappReloginBaseapp           = "Baseapp_reloginBaseapp"
	BaseappLogoutBaseapp            = "Baseapp_logoutBaseapp"
	BaseappOnClientActiveTick       = "Baseapp_onClientActiveTick"
	ClientOnHelloCB                 = "Client_onHelloCB"
	ClientOnVersionNotMatch         = "Client_onVersionNotMatch"
	ClientOnScriptVersionNotMatch   = "Client_onScriptVersionNotMatch"
	ClientOnImportServerErrorsDescr = "Client_onImportServerErrorsDescr"
	ClientOnLoginSuccessfully       = "Client_onLoginSuccessfully"
	ClientOnLoginFailed             = "Client_onLoginFailed"
	ClientOnCreateAccountResult     = "Client_onCreateAccountResult"
	ClientOnLoginBaseappFailed      = "Client_onLoginBaseappFailed"
	ClientOnReloginBaseappFailed    = "Client_onReloginBaseappFailed"
	ClientOnReloginBaseappSuccess   = "Client_onReloginBaseappSuccessfully"
	ClientOnCreatedProxies          = "Client_onCreatedProxies"
	ClientOnKicked                  = "Client_onKicked"
	ClientOnAppActiveTickCB         = "Client_onAppActiveTickCB"
	ClientOnStreamDataStarted       = "Client_onStreamDataStarted"
	ClientOnStreamDataRecv          = "Client_onStreamDataRecv"
	ClientOnStreamDataCompleted     = "Client_onStreamDataCompleted"
	ClientOnEntityEnterWorld        = "Client_onEntityEnterWorld"
	ClientOnEntityLeaveWorld        = "Client_onEntityLeaveWorld"
	ClientOnSetEntityPosAndDir      = "Client_onSetEntityPosAndDir"
	ClientOnUpdateBasePos           = "Client_onUpdateBasePos"
	ClientOnUpdateBasePosXZ         = "Client_onUpdateBasePosXZ"
	ClientOnUpdateDataXZ            = "Client_onUpdateData_xz"
	ClientOnUpdateDataXYZ           = "Client_onUpdateData_xyz"
	ClientOnUpdateDataYPR           = "Client_onUpdateData_ypr"
	ClientOnUpdateDataXYZYPR        = "Client_onUpdateData_xyz_ypr"
	ClientInitSpaceData             = "Client_initSpaceData"
	ClientSetSpaceData              = "Client_setSpaceData"
	ClientDelSpaceData              = "Client_delSpaceData"
)

func bootstrapDescriptors() []Descriptor {
	return []Descriptor{
		{ID: 5, Name: LoginappImportClientMessages, Length: 0, ArgsType: ArgsFixed},
		{ID: 207, Name: BaseappImportClientMessages, Length: 0, ArgsType: ArgsFixed},
		{ID: 208, Name: BaseappImportClientEntityDef, Length: 0, ArgsType: ArgsFixed},
		{ID: 518, Name: ClientOnImportClientMessages, Length: VariableLength, ArgsType: ArgsVariable},
	}
}
