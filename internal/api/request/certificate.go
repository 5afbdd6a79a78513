package request

type UploadCertificate struct {
	FileData string  `json:"fileData" validate:"required"`
	OwnerID  *string `json:"ownerId" validate:"omitempty,min=1,max=255"`
}

type UploadBatch struct {
	Files   []string `json:"files" validate:"required,min=1,dive,required"`
	OwnerID *string  `json:"ownerId" validate:"omitempty,min=1,max=255"`
}

type VerifyCertificate struct {
	FileData string `json:"fileData" validate:"required"`
}
