package synth

import (
	"sort"
	"strings"
)

// Locale describes a supported synthesis locale.
type Locale struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// DefaultLocale is used when a request names no locale.
const DefaultLocale = "en_US"

var supportedLocales = map[string]string{
	"en_US": "English (United States)",
	"en_GB": "English (United Kingdom)",
	"en_AU": "English (Australia)",
	"en_CA": "English (Canada)",
	"en_IN": "English (India)",
	"de_DE": "German (Germany)",
	"de_AT": "German (Austria)",
	"de_CH": "German (Switzerland)",
	"fr_FR": "French (France)",
	"fr_CA": "French (Canada)",
	"fr_BE": "French (Belgium)",
	"es_ES": "Spanish (Spain)",
	"es_MX": "Spanish (Mexico)",
	"it_IT": "Italian (Italy)",
	"pt_BR": "Portuguese (Brazil)",
	"pt_PT": "Portuguese (Portugal)",
	"nl_NL": "Dutch (Netherlands)",
	"nl_BE": "Dutch (Belgium)",
	"pl_PL": "Polish (Poland)",
	"ru_RU": "Russian (Russia)",
	"ja_JP": "Japanese (Japan)",
	"zh_CN": "Chinese (China)",
	"zh_TW": "Chinese (Taiwan)",
	"ko_KR": "Korean (South Korea)",
	"ar_SA": "Arabic (Saudi Arabia)",
	"hi_IN": "Hindi (India)",
	"sv_SE": "Swedish (Sweden)",
	"da_DK": "Danish (Denmark)",
	"no_NO": "Norwegian (Norway)",
	"fi_FI": "Finnish (Finland)",
}

// SupportedLocales returns every supported locale ordered by code.
func SupportedLocales() []Locale {
	locales := make([]Locale, 0, len(supportedLocales))
	for code, desc := range supportedLocales {
		locales = append(locales, Locale{Code: code, Description: desc})
	}
	sort.Slice(locales, func(i, j int) bool { return locales[i].Code < locales[j].Code })
	return locales
}

// IsSupportedLocale reports whether code is a supported locale.
func IsSupportedLocale(code string) bool {
	_, ok := supportedLocales[code]
	return ok
}

// profile holds the locale-specific vocabulary. Nil slices fall back to the
// faker's English data. places are fmt patterns for compound town names,
// used on retries once the short city list collides.
type profile struct {
	firstNames   []string
	lastNames    []string
	cities       []string
	places       []string
	streets      []string
	numberFirst  bool
	phoneFormats []string
	dateLayout   string
	ibanCountry  string
	ibanBBAN     string
}

var englishPlaces = []string{"%ston", "%sford", "%sbury", "%sfield", "Upper %s", "Little %s", "%s Green", "%s Heath", "%s-on-Sea", "East %s"}

var usProfile = &profile{
	places:       englishPlaces,
	numberFirst:  true,
	phoneFormats: []string{"(###) 555-####", "###-555-####", "+1 ### 555 ####"},
	dateLayout:   "01/02/2006",
	ibanCountry:  "DE",
	ibanBBAN:     "##################",
}

var profiles = map[string]*profile{
	"en_US": usProfile,
	"en_GB": {
		firstNames:   []string{"Oliver", "Amelia", "Harry", "Isla", "George", "Ava", "Jack", "Emily", "Charlie", "Poppy", "Thomas", "Freya", "Alfie", "Grace", "Oscar", "Sophie"},
		lastNames:    []string{"Smith", "Jones", "Taylor", "Brown", "Williams", "Wilson", "Davies", "Evans", "Thomas", "Roberts", "Walker", "Wright", "Hughes", "Green", "Hall", "Wood"},
		cities:       []string{"Leeds", "Bristol", "Norwich", "York", "Cardiff", "Bath", "Exeter", "Derby", "Reading", "Oxford", "Brighton", "Chester"},
		places:       englishPlaces,
		streets:      []string{"High Street", "Station Road", "Church Lane", "Victoria Road", "Park Avenue", "Mill Lane", "The Crescent", "Queens Road"},
		numberFirst:  true,
		phoneFormats: []string{"07### ######", "020 7### ####", "+44 7### ######"},
		dateLayout:   "02/01/2006",
		ibanCountry:  "GB",
		ibanBBAN:     "NWBK##############",
	},
	"de_DE": {
		firstNames:   []string{"Lukas", "Anna", "Jonas", "Lea", "Felix", "Hannah", "Maximilian", "Lena", "Paul", "Marie", "Leon", "Sophie", "Finn", "Mia", "Elias", "Clara"},
		lastNames:    []string{"Müller", "Schmidt", "Schneider", "Fischer", "Weber", "Meyer", "Wagner", "Becker", "Schulz", "Hoffmann", "Koch", "Richter", "Klein", "Wolf", "Neumann", "Braun"},
		cities:       []string{"Hamburg", "München", "Köln", "Leipzig", "Dresden", "Hannover", "Nürnberg", "Bremen", "Freiburg", "Kassel", "Mainz", "Bonn"},
		places:       []string{"%sdorf", "%shausen", "%sberg", "%sheim", "%sfeld", "Bad %s", "Neu-%s", "%sstadt"},
		streets:      []string{"Hauptstraße", "Schulstraße", "Gartenstraße", "Bahnhofstraße", "Dorfstraße", "Bergstraße", "Lindenstraße", "Kirchweg"},
		phoneFormats: []string{"+49 15# #######", "030 ########", "0171 #######"},
		dateLayout:   "02.01.2006",
		ibanCountry:  "DE",
		ibanBBAN:     "##################",
	},
	"fr_FR": {
		firstNames:   []string{"Gabriel", "Louise", "Raphaël", "Emma", "Léo", "Jade", "Louis", "Alice", "Arthur", "Chloé", "Jules", "Lina", "Hugo", "Rose", "Adam", "Léa"},
		lastNames:    []string{"Martin", "Bernard", "Dubois", "Thomas", "Robert", "Richard", "Petit", "Durand", "Leroy", "Moreau", "Simon", "Laurent", "Lefebvre", "Michel", "Garcia", "David"},
		cities:       []string{"Lyon", "Marseille", "Toulouse", "Nantes", "Bordeaux", "Lille", "Rennes", "Reims", "Dijon", "Angers", "Nîmes", "Grenoble"},
		places:       []string{"Saint-%s", "%s-sur-Mer", "%sville", "%s-les-Bains", "%s-le-Château", "Villeneuve-%s"},
		streets:      []string{"rue de la Paix", "avenue Victor Hugo", "rue Pasteur", "boulevard Voltaire", "rue du Moulin", "place de la Mairie", "rue des Écoles", "allée des Tilleuls"},
		numberFirst:  true,
		phoneFormats: []string{"06 ## ## ## ##", "01 ## ## ## ##", "+33 6 ## ## ## ##"},
		dateLayout:   "02/01/2006",
		ibanCountry:  "FR",
		ibanBBAN:     "#######################",
	},
	"es_ES": {
		firstNames:   []string{"Hugo", "Lucía", "Martín", "Sofía", "Mateo", "Martina", "Leo", "María", "Daniel", "Julia", "Pablo", "Paula", "Álvaro", "Valeria", "Manuel", "Carmen"},
		lastNames:    []string{"García", "Rodríguez", "González", "Fernández", "López", "Martínez", "Sánchez", "Pérez", "Gómez", "Martín", "Jiménez", "Ruiz", "Hernández", "Díaz", "Moreno", "Muñoz"},
		cities:       []string{"Valencia", "Sevilla", "Zaragoza", "Málaga", "Bilbao", "Alicante", "Córdoba", "Valladolid", "Vigo", "Gijón", "Granada", "Murcia"},
		places:       []string{"San %s", "%s del Río", "%s de la Sierra", "Villa %s", "%s de Arriba", "Puerto %s"},
		streets:      []string{"Calle Mayor", "Calle Real", "Avenida de la Constitución", "Calle del Sol", "Plaza de España", "Calle Nueva", "Paseo del Prado", "Calle de la Iglesia"},
		phoneFormats: []string{"6## ### ###", "91# ### ###", "+34 6## ## ## ##"},
		dateLayout:   "02/01/2006",
		ibanCountry:  "ES",
		ibanBBAN:     "####################",
	},
	"it_IT": {
		firstNames:   []string{"Leonardo", "Sofia", "Francesco", "Giulia", "Alessandro", "Aurora", "Lorenzo", "Alice", "Mattia", "Ginevra", "Andrea", "Emma", "Gabriele", "Giorgia", "Riccardo", "Beatrice"},
		lastNames:    []string{"Rossi", "Russo", "Ferrari", "Esposito", "Bianchi", "Romano", "Colombo", "Ricci", "Marino", "Greco", "Bruno", "Gallo", "Conti", "De Luca", "Costa", "Giordano"},
		cities:       []string{"Torino", "Bologna", "Firenze", "Genova", "Verona", "Padova", "Trieste", "Parma", "Modena", "Bari", "Perugia", "Lecce"},
		places:       []string{"San %s", "%s Marina", "%s Terme", "%s di Sopra", "Borgo %s", "Castel %s"},
		streets:      []string{"Via Roma", "Via Garibaldi", "Via Mazzini", "Corso Italia", "Via Dante", "Piazza della Repubblica", "Via Verdi", "Via Cavour"},
		phoneFormats: []string{"3## ### ####", "06 #### ####", "+39 3## ### ####"},
		dateLayout:   "02/01/2006",
		ibanCountry:  "IT",
		ibanBBAN:     "?######################",
	},
	"nl_NL": {
		firstNames:   []string{"Daan", "Emma", "Sem", "Julia", "Lucas", "Mila", "Levi", "Tess", "Finn", "Sophie", "Milan", "Zoë", "Jesse", "Sara", "Bram", "Anna"},
		lastNames:    []string{"de Jong", "Jansen", "de Vries", "van den Berg", "van Dijk", "Bakker", "Janssen", "Visser", "Smit", "Meijer", "de Boer", "Mulder", "de Groot", "Bos", "Vos", "Peters"},
		cities:       []string{"Utrecht", "Eindhoven", "Groningen", "Tilburg", "Almere", "Breda", "Nijmegen", "Haarlem", "Arnhem", "Zwolle", "Leiden", "Delft"},
		places:       []string{"%sdorp", "%swijk", "%sveen", "%sburg", "Nieuw-%s", "%s aan Zee"},
		streets:      []string{"Kerkstraat", "Schoolstraat", "Molenweg", "Dorpsstraat", "Stationsweg", "Julianastraat", "Beatrixlaan", "Marktplein"},
		phoneFormats: []string{"06 ########", "020 ### ####", "+31 6 ########"},
		dateLayout:   "02-01-2006",
		ibanCountry:  "NL",
		ibanBBAN:     "ABNA##########",
	},
	"pt_BR": {
		firstNames:   []string{"Miguel", "Helena", "Arthur", "Alice", "Gael", "Laura", "Heitor", "Maria", "Theo", "Valentina", "Davi", "Heloísa", "Bernardo", "Cecília", "Gabriel", "Júlia"},
		lastNames:    []string{"Silva", "Santos", "Oliveira", "Souza", "Rodrigues", "Ferreira", "Alves", "Pereira", "Lima", "Gomes", "Costa", "Ribeiro", "Martins", "Carvalho", "Almeida", "Lopes"},
		cities:       []string{"Curitiba", "Recife", "Fortaleza", "Salvador", "Manaus", "Belém", "Goiânia", "Campinas", "Natal", "Maceió", "Florianópolis", "Vitória"},
		places:       []string{"São %s", "%s do Sul", "Vila %s", "%s da Serra", "Porto %s", "%s Novo"},
		streets:      []string{"Rua das Flores", "Avenida Brasil", "Rua São João", "Rua Sete de Setembro", "Avenida Paulista", "Rua da Paz", "Rua XV de Novembro", "Travessa do Comércio"},
		phoneFormats: []string{"(##) 9####-####", "+55 ## 9####-####"},
		dateLayout:   "02/01/2006",
		ibanCountry:  "BR",
		ibanBBAN:     "#######################?#",
	},
	"pl_PL": {
		firstNames:   []string{"Antoni", "Zofia", "Jan", "Zuzanna", "Aleksander", "Hanna", "Franciszek", "Julia", "Nikodem", "Maja", "Jakub", "Laura", "Filip", "Oliwia", "Szymon", "Alicja"},
		lastNames:    []string{"Nowak", "Kowalski", "Wiśniewski", "Wójcik", "Kowalczyk", "Kamiński", "Lewandowski", "Zieliński", "Szymański", "Woźniak", "Dąbrowski", "Kozłowski", "Jankowski", "Mazur", "Krawczyk", "Piotrowski"},
		cities:       []string{"Kraków", "Wrocław", "Poznań", "Gdańsk", "Łódź", "Lublin", "Katowice", "Szczecin", "Toruń", "Rzeszów", "Opole", "Olsztyn"},
		places:       []string{"%sów", "%sowo", "Nowy %s", "%s Wielki", "%s Dolny", "Stary %s"},
		streets:      []string{"ul. Polna", "ul. Leśna", "ul. Słoneczna", "ul. Krótka", "ul. Szkolna", "ul. Ogrodowa", "ul. Lipowa", "ul. Kościuszki"},
		phoneFormats: []string{"5## ### ###", "+48 6## ### ###", "22 ### ## ##"},
		dateLayout:   "02.01.2006",
		ibanCountry:  "PL",
		ibanBBAN:     "########################",
	},
	"sv_SE": {
		firstNames:   []string{"William", "Alice", "Liam", "Maja", "Noah", "Elsa", "Hugo", "Astrid", "Lucas", "Wilma", "Oliver", "Freja", "Elias", "Saga", "Adam", "Ebba"},
		lastNames:    []string{"Andersson", "Johansson", "Karlsson", "Nilsson", "Eriksson", "Larsson", "Olsson", "Persson", "Svensson", "Gustafsson", "Pettersson", "Jonsson", "Jansson", "Hansson", "Bengtsson", "Lindberg"},
		cities:       []string{"Göteborg", "Malmö", "Uppsala", "Västerås", "Örebro", "Linköping", "Helsingborg", "Jönköping", "Norrköping", "Lund", "Umeå", "Gävle"},
		places:       []string{"%sby", "%sholm", "%sköping", "%sstad", "%sberga", "Norra %s"},
		streets:      []string{"Storgatan", "Drottninggatan", "Kungsgatan", "Skolgatan", "Järnvägsgatan", "Parkvägen", "Kyrkogatan", "Ringvägen"},
		phoneFormats: []string{"07#-### ## ##", "08-### ### ##", "+46 7# ### ## ##"},
		dateLayout:   "2006-01-02",
		ibanCountry:  "SE",
		ibanBBAN:     "####################",
	},
	"ja_JP": {
		firstNames:   []string{"Haruto", "Himari", "Sota", "Yui", "Yuto", "Aoi", "Riku", "Mei", "Minato", "Sakura", "Ren", "Hina", "Kaito", "Rin", "Hayato", "Yuna"},
		lastNames:    []string{"Sato", "Suzuki", "Takahashi", "Tanaka", "Watanabe", "Ito", "Yamamoto", "Nakamura", "Kobayashi", "Kato", "Yoshida", "Yamada", "Sasaki", "Yamaguchi", "Matsumoto", "Inoue"},
		cities:       []string{"Yokohama", "Osaka", "Nagoya", "Sapporo", "Kobe", "Kyoto", "Fukuoka", "Kawasaki", "Sendai", "Hiroshima", "Chiba", "Nara"},
		places:       []string{"%s-shi", "%s-machi", "%s-mura", "Shin-%s", "%s-cho"},
		streets:      []string{"Chuo-dori", "Sakura-dori", "Hon-cho", "Nishiki-cho", "Midori-cho", "Kotobuki-cho", "Asahi-cho", "Sakae-machi"},
		numberFirst:  true,
		phoneFormats: []string{"090-####-####", "03-####-####", "+81 80-####-####"},
		dateLayout:   "2006/01/02",
		ibanCountry:  "DE",
		ibanBBAN:     "##################",
	},
	"ru_RU": {
		firstNames:   []string{"Alexander", "Anastasia", "Dmitry", "Maria", "Maxim", "Daria", "Ivan", "Sofia", "Mikhail", "Anna", "Artem", "Polina", "Nikita", "Elena", "Sergey", "Olga"},
		lastNames:    []string{"Ivanov", "Smirnov", "Kuznetsov", "Popov", "Vasiliev", "Petrov", "Sokolov", "Mikhailov", "Novikov", "Fedorov", "Morozov", "Volkov", "Alekseev", "Lebedev", "Semenov", "Egorov"},
		cities:       []string{"Kazan", "Samara", "Omsk", "Perm", "Ufa", "Volgograd", "Tver", "Tula", "Yaroslavl", "Irkutsk", "Tomsk", "Kaluga"},
		places:       []string{"%so", "%ssk", "%ska", "Novo%s", "Staro%s", "%sgrad"},
		streets:      []string{"ul. Lenina", "ul. Mira", "ul. Sovetskaya", "ul. Sadovaya", "ul. Lesnaya", "ul. Shkolnaya", "pr. Pobedy", "ul. Gagarina"},
		phoneFormats: []string{"+7 9## ###-##-##", "8 (495) ###-##-##"},
		dateLayout:   "02.01.2006",
		ibanCountry:  "DE",
		ibanBBAN:     "##################",
	},
	"hi_IN": {
		firstNames:   []string{"Aarav", "Saanvi", "Vivaan", "Aadhya", "Aditya", "Ananya", "Arjun", "Diya", "Reyansh", "Ishita", "Krishna", "Kavya", "Ishaan", "Pari", "Rohan", "Meera"},
		lastNames:    []string{"Sharma", "Verma", "Gupta", "Singh", "Kumar", "Patel", "Reddy", "Iyer", "Nair", "Joshi", "Mehta", "Chopra", "Kapoor", "Malhotra", "Bose", "Das"},
		cities:       []string{"Pune", "Jaipur", "Lucknow", "Kanpur", "Nagpur", "Indore", "Bhopal", "Patna", "Vadodara", "Surat", "Agra", "Nashik"},
		places:       []string{"%spur", "%sabad", "%snagar", "%sganj", "%sgarh"},
		streets:      []string{"MG Road", "Station Road", "Gandhi Nagar", "Nehru Street", "Park Street", "Ring Road", "Mall Road", "Civil Lines"},
		numberFirst:  true,
		phoneFormats: []string{"+91 9#### #####", "98### #####"},
		dateLayout:   "02/01/2006",
		ibanCountry:  "DE",
		ibanBBAN:     "##################",
	},
}

// profileFor resolves a locale to its vocabulary: exact match, then any
// profile sharing the language, then en_US.
func profileFor(code string) *profile {
	if p, ok := profiles[code]; ok {
		return p
	}
	switch code {
	case "en_IN":
		return profiles["hi_IN"]
	case "en_CA", "en_AU":
		return usProfile
	}
	lang, _, _ := strings.Cut(code, "_")
	switch lang {
	case "en":
		return profiles["en_GB"]
	case "de":
		return profiles["de_DE"]
	case "fr":
		return profiles["fr_FR"]
	case "es":
		return profiles["es_ES"]
	case "pt":
		return profiles["pt_BR"]
	case "nl":
		return profiles["nl_NL"]
	case "sv", "da", "no", "fi":
		return profiles["sv_SE"]
	}
	return usProfile
}
