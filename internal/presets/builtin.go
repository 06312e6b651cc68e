package presets

// builtinGenreMap is used when no mapping file is available.
var builtinGenreMap = map[string]string{
	// phonk / drift
	"phonk": "phonk", "drift phonk": "phonk", "brazilian phonk": "phonk",
	"memphis phonk": "phonk", "aggressive phonk": "phonk",
	"cowbell phonk": "phonk", "dark phonk": "phonk",

	// rock
	"rock": "rock", "classic rock": "rock", "hard rock": "rock",
	"alternative rock": "rock", "indie rock": "rock", "punk": "rock",
	"grunge": "rock", "garage rock": "rock", "arena rock": "rock",
	"glam rock": "rock", "soft rock": "pop", "folk rock": "acoustic",
	"aor": "rock", "album rock": "rock", "modern rock": "rock",
	"post-grunge": "rock", "southern rock": "rock", "blues rock": "rock",
	"punk rock": "rock", "hardcore punk": "rock", "skate punk": "rock",
	"emo": "rock", "post-punk": "rock",

	// metal
	"metal": "metal", "heavy metal": "metal", "thrash metal": "metal",
	"death metal": "metal", "black metal": "metal", "doom metal": "metal",
	"nu metal": "metal", "alternative metal": "metal", "rap metal": "metal",
	"progressive metal": "metal", "metalcore": "metal", "glam metal": "metal",
	"power metal": "metal", "gothic metal": "metal", "groove metal": "metal",
	"symphonic metal": "metal", "industrial metal": "metal", "speed metal": "metal",
	"deathcore": "metal", "djent": "metal",

	// electronic / edm
	"electronic": "electronic", "edm": "edm", "house": "edm",
	"techno": "electronic", "trance": "edm", "dubstep": "edm",
	"drum and bass": "electronic", "electro": "electronic", "electro house": "edm",
	"synthwave": "electronic", "synthpop": "electronic", "chillwave": "lofi",
	"future bass": "edm", "progressive house": "edm",
	"electroclash": "electronic", "darkwave": "electronic",
	"dreamwave": "electronic", "retrowave": "electronic", "outrun": "electronic",
	"vaporwave": "lofi", "lo-fi": "lofi", "lofi": "lofi",
	"lo-fi beats": "lofi", "lofi hip hop": "lofi", "chillhop": "lofi",
	"ambient": "lofi", "downtempo": "lofi", "chillout": "lofi",
	"deep house": "electronic", "tropical house": "edm", "big room": "edm",
	"hardstyle": "edm", "hardcore": "edm", "gabber": "edm",
	"breakbeat": "electronic", "uk garage": "electronic", "bass music": "edm",
	"riddim": "edm", "brostep": "edm", "complextro": "edm",
	"future house": "edm", "electropop": "pop",
	"slap house": "edm", "brazilian bass": "edm", "tech house": "electronic",

	// hip hop
	"hip hop": "hip_hop", "rap": "hip_hop", "trap": "hip_hop",
	"gangster rap": "hip_hop", "g-funk": "hip_hop",
	"east coast hip hop": "hip_hop", "west coast hip hop": "hip_hop",
	"southern hip hop": "hip_hop", "latin hip hop": "hip_hop",
	"crunk": "hip_hop", "old school hip hop": "hip_hop",
	"trap soul": "hip_hop", "conscious hip hop": "hip_hop",
	"underground hip hop": "hip_hop", "dirty south": "hip_hop",
	"boom bap": "hip_hop", "mumble rap": "hip_hop", "drill": "hip_hop",
	"uk drill": "hip_hop", "chicago drill": "hip_hop",
	"trap latino": "hip_hop", "urbano": "hip_hop",

	// pop
	"pop": "pop", "pop punk": "pop", "indie pop": "pop",
	"art pop": "pop", "k-pop": "pop", "j-pop": "pop",
	"europop": "pop", "latin pop": "pop", "soft pop": "pop",
	"power pop": "pop", "dance pop": "pop", "teen pop": "pop",
	"bubblegum pop": "pop", "synth-pop": "pop", "chamber pop": "pop",
	"dream pop": "pop", "sunshine pop": "pop", "baroque pop": "pop",
	"bedroom pop": "pop", "hyperpop": "pop", "viral pop": "pop",
	"barbadian pop": "pop", "canadian pop": "pop", "australian pop": "pop",
	"british pop": "pop", "swedish pop": "pop", "german pop": "pop",

	// latin
	"latin": "latin", "reggaeton": "latin", "salsa": "latin",
	"bachata": "latin", "merengue": "latin", "cumbia": "latin",
	"urbano latino": "latin", "latin rock": "latin", "ranchera": "latin",
	"rock en español": "latin", "latin alternative": "latin",
	"dembow": "latin", "perreo": "latin", "latin trap": "latin",
	"corrido": "latin", "norteño": "latin", "banda": "latin",
	"mariachi": "latin", "bolero": "latin", "tango": "latin",
	"tropical": "latin", "vallenato": "latin", "champeta": "latin",

	// r&b / soul
	"r&b": "r_and_b", "soul": "r_and_b", "neo soul": "r_and_b",
	"motown": "r_and_b", "funk": "r_and_b", "quiet storm": "r_and_b",
	"contemporary r&b": "r_and_b", "new jack swing": "r_and_b",
	"urban contemporary": "r_and_b", "alternative r&b": "r_and_b",
	"rhythm and blues": "r_and_b", "doo-wop": "r_and_b",

	// acoustic / folk / country
	"acoustic": "acoustic", "folk": "acoustic", "indie folk": "acoustic",
	"singer-songwriter": "acoustic", "country": "country",
	"americana": "country", "bluegrass": "country", "outlaw country": "country",
	"contemporary country": "country", "country rock": "country",
	"alt-country": "country", "bro-country": "country",

	// classical / jazz / blues
	"classical": "classical", "orchestra": "classical", "opera": "classical",
	"jazz": "jazz", "blues": "jazz", "jazz fusion": "jazz",
	"smooth jazz": "jazz", "bebop": "jazz", "cool jazz": "jazz",
	"contemporary jazz": "jazz", "acid jazz": "jazz",
	"delta blues": "jazz", "chicago blues": "jazz", "electric blues": "jazz",

	DefaultKey: DefaultFallback,
}

// builtinMLGenreMap maps the audio classifier's GTZAN vocabulary to presets.
var builtinMLGenreMap = map[string]string{
	"blues":     "jazz",
	"classical": "classical",
	"country":   "country",
	"disco":     "edm",
	"hiphop":    "hip_hop",
	"jazz":      "jazz",
	"metal":     "metal",
	"pop":       "pop",
	"reggae":    "latin",
	"rock":      "rock",
}

// presetGenreGuess reverse-maps a manually chosen preset to the closest
// classifier genre.
var presetGenreGuess = map[string]string{
	"rock":       "rock",
	"metal":      "metal",
	"electronic": "electronic",
	"edm":        "edm",
	"phonk":      "phonk",
	"lofi":       "classical",
	"hip_hop":    "hiphop",
	"pop":        "pop",
	"latin":      "reggae",
	"acoustic":   "country",
	"classical":  "classical",
	"jazz":       "jazz",
	"v_shape":    "rock",
	"r_and_b":    "hiphop",
	"country":    "country",
}
