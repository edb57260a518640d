package deezer

// Deezer error code for "Quota limit exceeded".
const quotaExceededCode = 4

// searchResponse is the JSON response from the Deezer artist search endpoint.
type searchResponse struct {
	Data  []artistResult `json:"data"`
	Total int            `json:"total"`
}

// artistResult is a single artist entry from a Deezer search.
type artistResult struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Link string `json:"link"`
}

// artistDocument is the subset of /artist/{id} used for profiles.
type artistDocument struct {
	Error      *apiError `json:"error"`
	Name       string    `json:"name"`
	Link       string    `json:"link"`
	PictureXL  string    `json:"picture_xl"`
	PictureBig string    `json:"picture_big"`
}

// apiError is the error object Deezer embeds in 200 responses.
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
