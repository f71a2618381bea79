package verification

const (
	msgStale             = "This interaction has expired. Please click Verify again."
	msgNotEnabled        = "Verification is not enabled for this server. Contact an admin."
	msgInvalidChannel    = "Verification channel is invalid. Contact an admin."
	msgChannelPerms      = "Bot lacks permissions to send messages in the verification channel."
	msgRenderFailed      = "Failed to generate captcha. Please try again."
	msgImageInstructions = "Solve the captcha shown below and click *Enter solution* to type your answer."
	msgMathInstructions  = "Solve **%s** and click *Enter solution* to type your answer."
	msgEnterLabel        = "Enter solution"
	msgModalTitle        = "Enter captcha"
	msgImageInputLabel   = "Captcha text"
	msgMathInputLabel    = "Answer"
	msgNotYourButton     = "This enter button is not for you."
	msgNotYourModal      = "This modal is not for you."
	msgModalFailed       = "Failed to show captcha modal after retries. Please try again."
	msgNoChallenge       = "No captcha found or it expired. Please click Verify again."
	msgExpired           = "Captcha expired. Please click Verify again."
	msgNoManageRoles     = "Bot lacks permission to manage roles. Contact an admin."
	msgMemberNotFound    = "Member not found in guild."
	msgVerified          = "✅ Verified! Roles have been updated."
	msgWrongAnswer       = "❌ Wrong answer. Click **Verify** again to get a new captcha."
	msgGeneric           = "An error occurred. Please try again."
)
